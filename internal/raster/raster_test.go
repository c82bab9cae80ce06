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
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseInfoProjected(t *testing.T) {
	info, err := ParseInfo(fixture(t, "utm.json"))
	require.NoError(t, err)

	assert.Equal(t, "GTiff", info.Driver)
	assert.Equal(t, int64(4096), info.Width)
	assert.Equal(t, int64(3072), info.Height)
	assert.Equal(t, int64(3), info.Bands)
	assert.Equal(t, "Byte", info.DataType)
	assert.False(t, info.HasMask)
	assert.NotEmpty(t, info.CRS)
	assert.Equal(t, int64(32618), info.EPSG)
	assert.InDelta(t, 0.05, info.PixelSize, 1e-12)
	require.NotNil(t, info.WGS84)
	assert.InDelta(t, -72.3412, info.WGS84.XMin, 1e-9)
	assert.InDelta(t, 18.5422, info.WGS84.YMin, 1e-9)
	assert.InDelta(t, -72.3221, info.WGS84.XMax, 1e-9)
	assert.InDelta(t, 18.5561, info.WGS84.YMax, 1e-9)
	assert.Equal(t, time.Date(2023, 1, 15, 14, 30, 0, 0, time.UTC), info.Acquired)
}

func TestParseInfoWithoutCRS(t *testing.T) {
	info, err := ParseInfo(fixture(t, "nocrs.json"))
	require.NoError(t, err)
	assert.Empty(t, info.CRS)
	assert.Zero(t, info.EPSG)
	assert.Nil(t, info.WGS84)
	assert.Equal(t, "UInt16", info.DataType)
	assert.True(t, info.Acquired.IsZero())
}

func TestParseInfoWKT1Authority(t *testing.T) {
	info, err := ParseInfo(fixture(t, "cog_wkt1.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(3857), info.EPSG)
	assert.Equal(t, int64(4), info.Bands)
	assert.True(t, info.HasMask)
}

func TestParseInfoRejectsGarbage(t *testing.T) {
	_, err := ParseInfo([]byte("ERROR 4: not recognized as a supported file format"))
	assert.Error(t, err)

	_, err = ParseInfo([]byte(`{"driverShortName":"GTiff"}`))
	assert.Error(t, err)
}

func TestThumbnailBands(t *testing.T) {
	assert.Equal(t, []string{"-b", "1", "-b", "2", "-b", "3"}, ThumbnailBands(Info{Bands: 3}))
	assert.Equal(t, []string{"-b", "1", "-b", "1", "-b", "1"}, ThumbnailBands(Info{Bands: 1}))
	assert.Equal(t, []string{"-b", "1", "-b", "2", "-b", "3", "-b", "mask"}, ThumbnailBands(Info{Bands: 4, HasMask: true}))
}

func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestGDALInspectRunsTool(t *testing.T) {
	abs, err := filepath.Abs(filepath.Join("testdata", "utm.json"))
	require.NoError(t, err)
	g := NewGDAL(fakeTool(t, "cat "+abs), "")

	info, err := g.Inspect(context.Background(), "/tmp/whatever.tif")
	require.NoError(t, err)
	assert.Equal(t, int64(32618), info.EPSG)
}

func TestGDALToolFailureCarriesStderr(t *testing.T) {
	g := NewGDAL(fakeTool(t, "echo 'Warning 1: noise' >&2\necho 'ERROR 4: source.tif: No such file' >&2\nexit 1"), "")
	_, err := g.Inspect(context.Background(), "source.tif")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR 4: source.tif: No such file")
	assert.NotContains(t, err.Error(), "Warning")
}

func TestGDALConvertRequiresOutput(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out.tif")

	g := NewGDAL("", fakeTool(t, "exit 0"))
	err := g.ConvertCOG(context.Background(), "src.tif", dst, COGOptions{})
	assert.Error(t, err)

	// The destination is the last argument.
	g = NewGDAL("", fakeTool(t, `for last; do :; done; echo data > "$last"`))
	require.NoError(t, g.ConvertCOG(context.Background(), "src.tif", dst, COGOptions{TileSize: 512}))
}

func TestGDALMissingBinary(t *testing.T) {
	g := NewGDAL(filepath.Join(t.TempDir(), "no-such-gdalinfo"), "")
	_, err := g.Inspect(context.Background(), "x.tif")
	assert.Error(t, err)
}
