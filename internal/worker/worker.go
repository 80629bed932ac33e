// Package worker runs background jobs: notification fan-out, engagement CSV
// exports and summary rebuilds.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/learnlens/backend/internal/engagement"
	"github.com/learnlens/backend/internal/models"
	"github.com/learnlens/backend/pkg/queue"
	"github.com/learnlens/backend/pkg/storage"
)

// JobQueue is the part of *queue.Queue the worker needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Notifier fans out tutorial notifications. *notifications.Notifier implements it.
type Notifier interface {
	TutorialPublished(ctx context.Context, tutorialID, title, ownerName string) (int, error)
}

// ExportStore tracks export documents. *engagement.ExportRepository implements it.
type ExportStore interface {
	Get(ctx context.Context, id string) (*models.Export, error)
	Complete(ctx context.Context, id, s3Key string) error
	Fail(ctx context.Context, id, reason string) error
}

// Uploader stores export files. *storage.S3 implements it.
type Uploader interface {
	UploadExport(ctx context.Context, key string, body io.Reader) error
}

// SessionSource lists every stored watch session. *engagement.ScanAggregator implements it.
type SessionSource interface {
	Sessions(ctx context.Context) ([]models.WatchSession, error)
}

// Rebuilder replays sessions into the summary. *engagement.SummaryAggregator implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context, sessions []models.WatchSession, tutorialID string) (int, error)
}

// ErrNoUploader is returned for export jobs when no object storage is configured.
var ErrNoUploader = errors.New("export storage not configured")

// Config wires a Processor. Rebuilder may be nil when the summary is disabled,
// Uploader when exports are disabled.
type Config struct {
	Queue      JobQueue
	Notifier   Notifier
	Exports    ExportStore
	Uploader   Uploader
	Aggregator engagement.Aggregator
	Tutorials  engagement.TutorialSource
	Sessions   SessionSource
	Rebuilder  Rebuilder
	Logger     *zap.Logger
}

// Processor executes jobs from the queue.
type Processor struct {
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	backoff time.Duration
}

// NewProcessor creates a job processor.
func NewProcessor(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, logger: logger, now: time.Now, backoff: queue.RetryBackoff}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeTutorialPublished:
		return p.tutorialPublished(ctx, job)
	case queue.JobTypeEngagementExport:
		return p.export(ctx, job)
	case queue.JobTypeEngagementRebuild:
		return p.rebuild(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) tutorialPublished(ctx context.Context, job *queue.Job) error {
	var payload queue.TutorialPublishedPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	sent, err := p.cfg.Notifier.TutorialPublished(ctx, payload.TutorialID, payload.Title, payload.OwnerName)
	if err != nil {
		return fmt.Errorf("notify tutorial %s: %w", payload.TutorialID, err)
	}
	p.logger.Info("tutorial notifications sent", zap.String("tutorial_id", payload.TutorialID), zap.Int("recipients", sent))
	return nil
}

func (p *Processor) export(ctx context.Context, job *queue.Job) error {
	var payload queue.EngagementExportPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	exp, err := p.cfg.Exports.Get(ctx, payload.ExportID)
	if errors.Is(err, engagement.ErrExportNotFound) {
		p.logger.Warn("export document missing, dropping job", zap.String("export_id", payload.ExportID))
		return nil
	}
	if err != nil {
		return err
	}
	if exp.Status == models.ExportCompleted {
		p.logger.Info("export already completed", zap.String("export_id", exp.ID))
		return nil
	}
	if p.cfg.Uploader == nil {
		return ErrNoUploader
	}

	var buf bytes.Buffer
	rows, err := engagement.WriteExport(ctx, &buf, p.cfg.Aggregator, p.cfg.Tutorials, exp.RequestedBy)
	if err != nil {
		return fmt.Errorf("write export %s: %w", exp.ID, err)
	}
	key := storage.ExportKey(exp.ID, exp.CreatedAt)
	if exp.CreatedAt.IsZero() {
		key = storage.ExportKey(exp.ID, p.now())
	}
	if err := p.cfg.Uploader.UploadExport(ctx, key, &buf); err != nil {
		return err
	}
	if err := p.cfg.Exports.Complete(ctx, exp.ID, key); err != nil {
		return err
	}
	p.logger.Info("export completed", zap.String("export_id", exp.ID), zap.String("s3_key", key), zap.Int("rows", rows))
	return nil
}

func (p *Processor) rebuild(ctx context.Context, job *queue.Job) error {
	var payload queue.EngagementRebuildPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if p.cfg.Rebuilder == nil {
		p.logger.Info("summary disabled, skipping rebuild", zap.String("tutorial_id", payload.TutorialID))
		return nil
	}
	sessions, err := p.cfg.Sessions.Sessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if _, err := p.cfg.Rebuilder.Rebuild(ctx, sessions, payload.TutorialID); err != nil {
		return fmt.Errorf("rebuild summary: %w", err)
	}
	return nil
}

// giveUp runs when a job failed its last attempt.
func (p *Processor) giveUp(ctx context.Context, job *queue.Job, cause error) {
	if job.Type != queue.JobTypeEngagementExport {
		return
	}
	var payload queue.EngagementExportPayload
	if err := job.Decode(&payload); err != nil {
		return
	}
	if err := p.cfg.Exports.Fail(ctx, payload.ExportID, "export could not be generated"); err != nil {
		p.logger.Error("mark export failed", zap.String("export_id", payload.ExportID), zap.Error(err))
		return
	}
	p.logger.Warn("export failed", zap.String("export_id", payload.ExportID), zap.Error(cause))
}

// handle processes job and schedules a retry on failure.
func (p *Processor) handle(ctx context.Context, job *queue.Job) bool {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		return true
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if job.Attempt+1 >= queue.MaxRetries {
		p.giveUp(ctx, job, err)
	}
	if reErr := p.cfg.Queue.Retry(ctx, job); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	return false
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, err := p.cfg.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		if !p.handle(ctx, job) {
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
