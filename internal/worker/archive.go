// Package worker runs background jobs pulled from the Redis queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/pkg/queue"
)

// JobSource is satisfied by *queue.Queue.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Archiver is satisfied by *storage.Archive.
type Archiver interface {
	Put(ctx context.Context, meetingID string, at time.Time, body []byte) (string, error)
}

// ArchiveProcessor uploads queued telemetry reports.
type ArchiveProcessor struct {
	jobs    JobSource
	archive Archiver
	backoff time.Duration
	logger  *zap.Logger
}

// NewArchiveProcessor creates a telemetry archive processor.
func NewArchiveProcessor(jobs JobSource, archive Archiver, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{jobs: jobs, archive: archive, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTelemetryArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TelemetryArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	key, err := p.archive.Put(ctx, payload.MeetingID, payload.ReceivedAt, payload.Report)
	if err != nil {
		return err
	}
	p.logger.Info("telemetry archived", zap.String("job_id", job.ID), zap.String("meeting_id", payload.MeetingID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
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

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
