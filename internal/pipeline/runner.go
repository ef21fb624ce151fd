// Package pipeline runs the whole capture, bundle and upload flow over a
// list of entities.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/proofpack/internal/browser"
	"github.com/ppiankov/proofpack/internal/cache"
	"github.com/ppiankov/proofpack/internal/logger"
	"github.com/ppiankov/proofpack/internal/model"
	"github.com/ppiankov/proofpack/internal/worker"
)

// ErrNoEntities is returned when a run is started with nothing to do
var ErrNoEntities = errors.New("no usable entities in input")

// Session is one isolated browser
type Session interface {
	Page() browser.Page
	Close() error
}

// SessionFactory opens browser sessions, one per partition
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// Capturer fills a job's directory with evidence
type Capturer interface {
	Run(ctx context.Context, page browser.Page, job *model.CaptureJob) error
}

// Packer turns an entity directory into a bundle
type Packer interface {
	Pack(ctx context.Context, dir, entityID string) (model.Bundle, error)
}

// Mover uploads a bundle and cleans up after it
type Mover interface {
	Move(ctx context.Context, b model.Bundle) (string, error)
}

// Components are the collaborators of a Runner. Mover may be nil only in
// no-upload mode; Ledger may be nil.
type Components struct {
	Sessions SessionFactory
	Capturer Capturer
	Packer   Packer
	Mover    Mover
	Ledger   *cache.Ledger
}

// Runner processes entities partition by partition
type Runner struct {
	cfg    *model.Config
	c      Components
	logger *slog.Logger
}

// New creates a runner
func New(cfg *model.Config, c Components, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, c: c, logger: logger}
}

// Run processes entities and returns the run summary. Only an empty entity
// list is an error; per-entity failures are recorded in the summary.
func (r *Runner) Run(ctx context.Context, entities []model.Entity) (*model.RunSummary, error) {
	if len(entities) == 0 {
		return nil, ErrNoEntities
	}
	if !r.cfg.Output.NoUpload && r.c.Mover == nil {
		return nil, errors.New("no remote mover configured")
	}

	summary := &model.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		OutputDir: r.cfg.Output.Dir,
	}
	log := r.logger.With("run_id", summary.RunID)

	if err := os.MkdirAll(r.cfg.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	partitions := worker.Partition(entities, r.cfg.Concurrency.Sessions)
	summary.Sessions = len(partitions)

	log.Info("run started", "entities", len(entities), "sessions", len(partitions))

	pool := worker.NewPool[partitionResult](ctx, len(partitions))
	pool.Start()
	for i, part := range partitions {
		pool.Submit(worker.JobFunc[partitionResult](func(ctx context.Context) partitionResult {
			return partitionResult{
				index:   i,
				results: r.runPartition(ctx, log.With("session", i), part),
			}
		}))
	}
	done := pool.Wait()

	// Pool results arrive in completion order; partitions are contiguous,
	// so ordering them by index restores input order
	ordered := make([][]model.EntityResult, len(partitions))
	for _, pr := range done {
		ordered[pr.index] = pr.results
	}
	for i, part := range partitions {
		if ordered[i] == nil {
			ordered[i] = abandonAll(part, "abandoned: run cancelled before the session started")
		}
		summary.Results = append(summary.Results, ordered[i]...)
	}

	summary.FinishedAt = time.Now().UTC()

	succeeded, failed, skipped := summary.Totals()
	log.Info("run finished",
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
		"duration", summary.FinishedAt.Sub(summary.StartedAt))

	if r.cfg.Output.Report {
		path := filepath.Join(r.cfg.Output.Dir, "run-"+summary.RunID+".json")
		if err := WriteReport(summary, path); err != nil {
			log.Warn("failed to write run report", "path", path, "error", err)
		}
	}

	return summary, nil
}

type partitionResult struct {
	index   int
	results []model.EntityResult
}

// runPartition processes part sequentially on one browser session
func (r *Runner) runPartition(ctx context.Context, log *slog.Logger, part []model.Entity) []model.EntityResult {
	session, err := r.c.Sessions.NewSession(ctx)
	if err != nil {
		log.Error("failed to start browser session", "error", err)
		return abandonAll(part, fmt.Sprintf("start browser session: %v", err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("closing browser session failed", "error", err)
		}
	}()

	results := make([]model.EntityResult, 0, len(part))
	for i, entity := range part {
		if ctx.Err() != nil {
			results = append(results, abandonAll(part[i:], "abandoned: "+ctx.Err().Error())...)
			break
		}
		results = append(results, r.processEntity(ctx, log.With("entity_id", entity.ID), session.Page(), entity))
	}
	return results
}

// processEntity captures, packs and moves one entity
func (r *Runner) processEntity(ctx context.Context, log *slog.Logger, page browser.Page, entity model.Entity) model.EntityResult {
	start := time.Now()
	result := model.EntityResult{Entity: entity}

	if r.c.Ledger != nil && r.cfg.Ledger.SkipUploaded {
		if u, ok := r.c.Ledger.Uploaded(entity.ID); ok {
			log.Info("already uploaded, skipping", "url", u.RemoteURL, "uploaded_at", u.UploadedAt)
			result.Skipped = true
			result.Uploaded = true
			result.RemoteURL = u.RemoteURL
			result.Duration = time.Since(start)
			return result
		}
	}

	dir := filepath.Join(r.cfg.Output.Dir, entity.ID)
	if err := resetDir(dir); err != nil {
		log.Error("failed to prepare entity directory", "dir", dir, "error", err)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	job := model.NewCaptureJob(entity, dir)
	log.Info("capturing", "name", entity.DisplayName, "url", entity.SourceURL)

	var errs []error
	runErr := r.c.Capturer.Run(logger.WithContext(ctx, log), page, job)
	result.Artifacts = job.Artifacts
	result.Steps = job.Steps

	if ctx.Err() != nil {
		log.Warn("run cancelled, entity abandoned with its directory retained", "dir", dir)
		result.Error = "abandoned: " + ctx.Err().Error()
		result.Duration = time.Since(start)
		return result
	}
	if runErr != nil {
		errs = append(errs, runErr)
		if !job.HasFiles() {
			log.Warn("nothing captured, not packaging", "error", runErr)
			return r.finish(&result, job, errs, start)
		}
	}

	if r.cfg.Output.NoUpload {
		log.Info("upload disabled, directory kept", "dir", dir)
		return r.finish(&result, job, errs, start)
	}

	bundle, err := r.c.Packer.Pack(ctx, dir, entity.ID)
	if err != nil {
		log.Error("packaging failed, directory retained", "error", err)
		errs = append(errs, fmt.Errorf("pack: %w", err))
		return r.finish(&result, job, errs, start)
	}
	job.Packaged = true

	remoteURL, err := r.c.Mover.Move(ctx, bundle)
	if err != nil {
		log.Error("upload failed, archive and directory retained", "archive", bundle.Path, "error", err)
		errs = append(errs, fmt.Errorf("upload: %w", err))
		return r.finish(&result, job, errs, start)
	}
	job.Uploaded = true
	job.RemoteURL = remoteURL

	if r.c.Ledger != nil {
		err := r.c.Ledger.MarkUploaded(cache.Upload{
			EntityID:  entity.ID,
			Key:       bundle.Key,
			RemoteURL: remoteURL,
			Size:      bundle.Size,
		})
		if err != nil {
			log.Warn("failed to record upload in ledger", "error", err)
		}
	}

	log.Info("uploaded", "url", remoteURL, "size", bundle.Size)
	return r.finish(&result, job, errs, start)
}

func (r *Runner) finish(result *model.EntityResult, job *model.CaptureJob, errs []error, start time.Time) model.EntityResult {
	result.Packaged = job.Packaged
	result.Uploaded = job.Uploaded
	result.RemoteURL = job.RemoteURL
	if err := errors.Join(errs...); err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return *result
}

// resetDir gives a rerun a clean directory
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

func abandonAll(entities []model.Entity, reason string) []model.EntityResult {
	results := make([]model.EntityResult, 0, len(entities))
	for _, e := range entities {
		results = append(results, model.EntityResult{Entity: e, Error: reason})
	}
	return results
}
