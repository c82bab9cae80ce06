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

// Package ingest turns one uploaded raster into a pending catalog record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/constants"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/logctx"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/raster"
	"github.com/cardinalhq/imagelake/internal/snapshot"
	"github.com/cardinalhq/imagelake/internal/statustracker"
)

// Config is the ingest section of the service configuration.
type Config struct {
	MaxFileBytes        int64         `mapstructure:"max_file_bytes"`
	MinDimension        int64         `mapstructure:"min_dimension"`
	ThumbnailWidth      int           `mapstructure:"thumbnail_width"`
	TileSize            int           `mapstructure:"tile_size"`
	WorkDir             string        `mapstructure:"work_dir"`
	GDALInfoPath        string        `mapstructure:"gdalinfo_path"`
	GDALTranslatePath   string        `mapstructure:"gdal_translate_path"`
	AllowNullIsland     bool          `mapstructure:"allow_null_island"`
	NullIslandTolerance float64       `mapstructure:"null_island_tolerance"`
	StepTimeout         time.Duration `mapstructure:"step_timeout"`
	CleanupStaging      bool          `mapstructure:"cleanup_staging"`
}

func DefaultConfig() Config {
	return Config{
		MaxFileBytes:        constants.MaxUploadBytes,
		MinDimension:        10,
		ThumbnailWidth:      512,
		TileSize:            256,
		NullIslandTolerance: 0.01,
		StepTimeout:         15 * time.Minute,
		CleanupStaging:      true,
	}
}

type handler func(ctx context.Context, j *job) error

// Pipeline runs ingestion jobs. Jobs share nothing but the Pipeline's
// read-only collaborators, so any number may run at once.
type Pipeline struct {
	store     objstore.Store
	tracker   statustracker.Tracker
	toolkit   raster.Toolkit
	cfg       Config
	publicURL func(key string) string
	now       func() time.Time
	handlers  map[Step]handler
}

func New(store objstore.Store, tracker statustracker.Tracker, toolkit raster.Toolkit, cfg Config, publicURL func(string) string) *Pipeline {
	p := &Pipeline{
		store:     store,
		tracker:   tracker,
		toolkit:   toolkit,
		cfg:       cfg,
		publicURL: publicURL,
		now:       time.Now,
	}
	p.handlers = map[Step]handler{
		StepReceived:    p.receive,
		StepValidating:  p.validate,
		StepConverting:  p.convert,
		StepThumbnail:   p.thumbnail,
		StepMetadata:    p.extractMetadata,
		StepRegistering: p.register,
		StepComplete:    p.complete,
	}
	return p
}

// job is the in-memory state of one run. Everything durable it produces
// lives at a key derived from id.
type job struct {
	id        string
	workDir   string
	createdAt time.Time

	meta       UploadMeta
	uploadedAt time.Time
	srcPath    string
	srcInfo    raster.Info
	cogPath    string
	cogInfo    *raster.Info
	thumbPath  string
	record     catalog.Record
}

// Run drives jobID from received to complete. The first failing step
// ends the run: its error is written to the job status verbatim and
// returned. Nothing is retried; running the same job id again is safe.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	if !idgen.ValidJobID(jobID) {
		return catalog.NewValidationError(fmt.Sprintf("invalid job id %q", jobID))
	}
	ctx = logctx.WithJob(ctx, jobID)
	log := logctx.FromContext(ctx)
	start := p.now()

	if done, err := p.alreadyComplete(ctx, jobID); err != nil {
		return err
	} else if done {
		log.Info("Job already complete and its upload is gone, nothing to do")
		return nil
	}

	workDir, err := os.MkdirTemp(p.cfg.WorkDir, "ingest-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("Failed to remove work dir", slog.String("dir", workDir), slog.Any("error", err))
		}
	}()

	j := &job{id: jobID, workDir: workDir, createdAt: start}
	if prev, err := p.tracker.Get(ctx, jobID); err == nil {
		j.createdAt = prev.CreatedAt
	}

	for step := StepReceived; ; step = step.Next() {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, j, step, err)
		}
		if step != StepComplete {
			if err := p.setStatus(ctx, j, step, statustracker.StatusProcessing, ""); err != nil {
				return err
			}
		}

		stepStart := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout())
		err := p.handlers[step](stepCtx, j)
		cancel()
		recordStep(ctx, step, time.Since(stepStart), err)
		if err != nil {
			return p.fail(ctx, j, step, err)
		}
		log.Debug("Step finished", slog.String("step", step.String()), slog.Duration("duration", time.Since(stepStart)))
		if step == StepComplete {
			break
		}
	}

	recordJob(ctx, "complete")
	log.Info("Ingestion complete",
		slog.String("cog", j.record.COGHref),
		slog.Duration("duration", p.now().Sub(start)))
	return nil
}

func (p *Pipeline) stepTimeout() time.Duration {
	if p.cfg.StepTimeout > 0 {
		return p.cfg.StepTimeout
	}
	return DefaultConfig().StepTimeout
}

// alreadyComplete catches a re-trigger for a job that finished and had
// its staging area cleaned up. Re-running it would only turn a success
// into a "source not found" failure.
func (p *Pipeline) alreadyComplete(ctx context.Context, jobID string) (bool, error) {
	_, err := p.store.Stat(ctx, catalog.RawImageKey(jobID))
	if err == nil || !errors.Is(err, objstore.ErrNotFound) {
		return false, nil
	}
	prev, err := p.tracker.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, statustracker.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read job status: %w", err)
	}
	return prev.Status == statustracker.StatusComplete, nil
}

func (p *Pipeline) setStatus(ctx context.Context, j *job, step Step, status statustracker.Status, msg string) error {
	now := p.now().UTC()
	rec := statustracker.Job{
		Step:      step.String(),
		Status:    status,
		Error:     msg,
		Title:     j.meta.Title,
		CreatedAt: j.createdAt.UTC(),
		UpdatedAt: now,
	}
	if status == statustracker.StatusComplete {
		rec.COGURL = j.record.COGHref
		rec.ThumbnailURL = j.record.ThumbnailHref
		rec.Title = j.record.Title
		rec.CompletedAt = &now
	}
	if err := p.tracker.Set(ctx, j.id, rec); err != nil {
		return fmt.Errorf("update status to %s/%s: %w", step, status, err)
	}
	return nil
}

// fail records the error against the step that produced it. The status
// write uses a detached context so a cancelled run still reports why it
// stopped.
func (p *Pipeline) fail(ctx context.Context, j *job, step Step, cause error) error {
	log := logctx.FromContext(ctx)
	log.Error("Ingestion failed", slog.String("step", step.String()), slog.Any("error", cause))
	recordJob(ctx, "error")

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.setStatus(wctx, j, step, statustracker.StatusError, cause.Error()); err != nil {
		log.Error("Failed to record job failure", slog.Any("error", err))
		return errors.Join(cause, err)
	}
	return cause
}

func (p *Pipeline) receive(ctx context.Context, j *job) error {
	meta, err := ReadUploadMeta(ctx, p.store, j.id)
	if err != nil {
		return err
	}
	j.meta = meta
	return nil
}

func (p *Pipeline) validate(ctx context.Context, j *job) error {
	key := catalog.RawImageKey(j.id)
	info, err := p.store.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return catalog.NewValidationError("source image not found")
		}
		return fmt.Errorf("stat source image: %w", err)
	}
	if err := checkSize(info.Size, p.cfg.MaxFileBytes); err != nil {
		return err
	}
	// Pinning uploaded_at to the upload keeps re-runs byte-for-byte equal.
	j.uploadedAt = info.LastModified

	path, _, err := p.store.Download(ctx, key, j.workDir)
	if err != nil {
		return fmt.Errorf("download source image: %w", err)
	}
	j.srcPath = path

	srcInfo, err := p.toolkit.Inspect(ctx, path)
	if err != nil {
		return catalog.ValidationError{Reason: "unreadable raster", Err: err}
	}
	if err := validateRaster(srcInfo, p.cfg); err != nil {
		return err
	}
	j.srcInfo = srcInfo
	return nil
}

func (p *Pipeline) convert(ctx context.Context, j *job) error {
	j.cogPath = filepath.Join(j.workDir, "output.cog.tif")
	if err := p.toolkit.ConvertCOG(ctx, j.srcPath, j.cogPath, raster.COGOptions{TileSize: p.cfg.TileSize}); err != nil {
		return catalog.NewProcessingError("COG conversion", err)
	}
	if err := p.store.PutFile(ctx, catalog.COGKey(j.id), j.cogPath, "image/tiff"); err != nil {
		return catalog.NewProcessingError("COG upload", err)
	}
	return nil
}

func (p *Pipeline) thumbnail(ctx context.Context, j *job) error {
	info, err := p.convertedInfo(ctx, j)
	if err != nil {
		return err
	}
	j.thumbPath = filepath.Join(j.workDir, "thumbnail.webp")
	width := p.cfg.ThumbnailWidth
	if width <= 0 {
		width = DefaultConfig().ThumbnailWidth
	}
	if err := p.toolkit.Thumbnail(ctx, j.cogPath, j.thumbPath, width, info); err != nil {
		return catalog.NewProcessingError("thumbnail", err)
	}
	if err := p.store.PutFile(ctx, catalog.ThumbnailKey(j.id), j.thumbPath, "image/webp"); err != nil {
		return catalog.NewProcessingError("thumbnail upload", err)
	}
	return nil
}

func (p *Pipeline) convertedInfo(ctx context.Context, j *job) (raster.Info, error) {
	if j.cogInfo != nil {
		return *j.cogInfo, nil
	}
	info, err := p.toolkit.Inspect(ctx, j.cogPath)
	if err != nil {
		return raster.Info{}, catalog.NewProcessingError("COG inspection", err)
	}
	j.cogInfo = &info
	return info, nil
}

func (p *Pipeline) extractMetadata(ctx context.Context, j *job) error {
	info, err := p.convertedInfo(ctx, j)
	if err != nil {
		return err
	}
	st, err := os.Stat(j.cogPath)
	if err != nil {
		return catalog.NewProcessingError("metadata extraction", err)
	}
	rec := buildRecord(recordInput{
		JobID:        j.id,
		Source:       j.srcInfo,
		Converted:    info,
		Meta:         j.meta,
		COGSize:      st.Size(),
		COGHref:      p.publicURL(catalog.COGKey(j.id)),
		ThumbnailRef: p.publicURL(catalog.ThumbnailKey(j.id)),
		UploadedAt:   j.uploadedAt,
	})
	if err := rec.Validate(); err != nil {
		return catalog.NewProcessingError("metadata extraction", err)
	}
	j.record = rec
	return nil
}

func (p *Pipeline) register(ctx context.Context, j *job) error {
	key, err := snapshot.WriteSidecar(ctx, p.store, j.record)
	if err != nil {
		return catalog.NewRegistrationError(err)
	}
	logctx.FromContext(ctx).Debug("Wrote sidecar", slog.String("key", key))
	return nil
}

func (p *Pipeline) complete(ctx context.Context, j *job) error {
	if err := p.setStatus(ctx, j, StepComplete, statustracker.StatusComplete, ""); err != nil {
		return err
	}
	if p.cfg.CleanupStaging {
		p.cleanupStaging(ctx, j.id)
	}
	return nil
}

// cleanupStaging is best effort: leftovers only cost storage.
func (p *Pipeline) cleanupStaging(ctx context.Context, jobID string) {
	log := logctx.FromContext(ctx)
	infos, err := p.store.List(ctx, catalog.StagingDir(jobID))
	if err != nil {
		log.Warn("Failed to list staging files", slog.Any("error", err))
		return
	}
	keys := make([]string, len(infos))
	for i, info := range infos {
		keys[i] = info.Key
	}
	failed, err := p.store.DeleteMany(ctx, keys)
	if err != nil || len(failed) > 0 {
		log.Warn("Failed to clean up staging files", slog.Int("failed", len(failed)), slog.Any("error", err))
	}
}
