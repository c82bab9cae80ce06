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

package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithLoggerRoundTrip(t *testing.T) {
	logger, _ := bufferLogger()
	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
}

func TestNilLoggerFallsBack(t *testing.T) {
	ctx := WithLogger(context.Background(), nil)
	assert.Same(t, slog.Default(), FromContext(ctx))
}

func TestWithJobAndAttrs(t *testing.T) {
	logger, buf := bufferLogger()
	ctx := WithLogger(context.Background(), logger)
	ctx = WithJob(ctx, "job-42")
	ctx = With(ctx, slog.String("step", "converting"))

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "jobID=job-42")
	assert.Contains(t, buf.String(), "step=converting")
}

func TestWithDoesNotLeakToParent(t *testing.T) {
	logger, buf := bufferLogger()
	parent := WithLogger(context.Background(), logger)
	_ = WithJob(parent, "child")

	FromContext(parent).Info("parent")
	assert.NotContains(t, buf.String(), "jobID")
}
