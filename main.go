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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/imagelake/cmd"
)

func stderrf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

func init() {
	time.Local = time.UTC
	tuneProcess()
}

// tuneProcess sizes GOMAXPROCS and the soft memory limit to the container.
// GDAL runs as a child process, so the Go heap gets a smaller share of
// memory than a pure Go service would.
func tuneProcess() {
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(stderrf))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(stderrf))
	}
	if err != nil {
		stderrf("failed to set GOMAXPROCS: %v", err)
	}

	_, err = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.6),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	)
	if err != nil {
		stderrf("failed to set memory limit: %v", err)
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(50)
		_ = os.Setenv("GOGC", "50")
	}
}

// scratchDir points TMPDIR at a per-service directory; pipeline work dirs
// and GDAL intermediates land there. IMAGELAKE_SCRATCH_DIR overrides it.
func scratchDir() {
	dir := os.Getenv("IMAGELAKE_SCRATCH_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "imagelake")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Failed to create scratch dir (ignoring)", slog.String("path", dir), slog.Any("error", err))
		return
	}
	if err := os.Setenv("TMPDIR", dir); err != nil {
		slog.Error("Failed to set TMPDIR", slog.String("path", dir), slog.Any("error", err))
		return
	}
	slog.Debug("Using scratch dir", slog.String("path", os.TempDir()))
}

func main() {
	scratchDir()
	cmd.Execute()
}
