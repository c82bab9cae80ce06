// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Toolkit is the raster work the ingestion pipeline delegates.
type Toolkit interface {
	// Inspect reads the raster header.
	Inspect(ctx context.Context, path string) (Info, error)

	// ConvertCOG writes a web-optimized cloud optimized GeoTIFF.
	ConvertCOG(ctx context.Context, src, dst string, opts COGOptions) error

	// Thumbnail renders a preview of the given width, keeping aspect.
	Thumbnail(ctx context.Context, src, dst string, width int, info Info) error
}

// COGOptions controls ConvertCOG.
type COGOptions struct {
	TileSize int
}

// GDAL runs the gdal command line tools.
type GDAL struct {
	InfoPath      string
	TranslatePath string
}

var _ Toolkit = (*GDAL)(nil)

func NewGDAL(infoPath, translatePath string) *GDAL {
	if infoPath == "" {
		infoPath = "gdalinfo"
	}
	if translatePath == "" {
		translatePath = "gdal_translate"
	}
	return &GDAL{InfoPath: infoPath, TranslatePath: translatePath}
}

func (g *GDAL) Inspect(ctx context.Context, path string) (Info, error) {
	out, err := run(ctx, g.InfoPath, "-json", path)
	if err != nil {
		return Info{}, err
	}
	return ParseInfo(out)
}

// ConvertCOG uses the GoogleMapsCompatible tiling scheme, which reprojects
// to EPSG:3857. The alpha band keeps areas outside the footprint
// transparent after reprojection.
func (g *GDAL) ConvertCOG(ctx context.Context, src, dst string, opts COGOptions) error {
	tile := opts.TileSize
	if tile <= 0 {
		tile = 256
	}
	_, err := run(ctx, g.TranslatePath,
		"-of", "COG",
		"-co", "TILING_SCHEME=GoogleMapsCompatible",
		"-co", "COMPRESS=DEFLATE",
		"-co", "BLOCKSIZE="+strconv.Itoa(tile),
		"-co", "OVERVIEWS=IGNORE_EXISTING",
		"-co", "OVERVIEW_RESAMPLING=NEAREST",
		"-co", "ADD_ALPHA=YES",
		src, dst)
	if err != nil {
		return err
	}
	return expectOutput(dst)
}

func (g *GDAL) Thumbnail(ctx context.Context, src, dst string, width int, info Info) error {
	args := []string{"-of", "WEBP", "-co", "QUALITY=80", "-outsize", strconv.Itoa(width), "0"}
	args = append(args, ThumbnailBands(info)...)
	if info.DataType != "" && info.DataType != "Byte" {
		args = append(args, "-ot", "Byte", "-scale")
	}
	args = append(args, src, dst)
	if _, err := run(ctx, g.TranslatePath, args...); err != nil {
		return err
	}
	return expectOutput(dst)
}

// ThumbnailBands picks RGB from the first three bands, repeats a single
// band as grey, and carries the mask as alpha when there is one.
func ThumbnailBands(info Info) []string {
	var bands []string
	if info.Bands >= 3 {
		bands = []string{"-b", "1", "-b", "2", "-b", "3"}
	} else {
		bands = []string{"-b", "1", "-b", "1", "-b", "1"}
	}
	if info.HasMask {
		bands = append(bands, "-b", "mask")
	}
	return bands
}

func run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("Ran raster tool",
		slog.String("tool", bin),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%s: %s", bin, lastLine(msg))
		}
		return nil, fmt.Errorf("%s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func expectOutput(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output not created: %w", err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("output %s is empty", path)
	}
	return nil
}
