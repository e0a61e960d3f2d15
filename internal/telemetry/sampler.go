// Package telemetry samples connection quality of an active call and reports it to a metrics sink.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 5 * time.Second

// Target is the call being sampled.
type Target interface {
	Stats(ctx context.Context) (media.StatsReport, error)
	MeetingID() string
	ParticipantCount() int
}

// Sampler periodically samples a Target and hands each sample to OnSample and the Reporter.
// Stats and report failures are logged and never stop the loop.
type Sampler struct {
	target   Target
	reporter Reporter
	onSample func(models.TelemetrySample)
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides time.Now for sample timestamps.
func WithClock(now func() time.Time) SamplerOption {
	return func(s *Sampler) {
		if now != nil {
			s.now = now
		}
	}
}

// OnSample registers a callback invoked with every sample before it is reported.
func OnSample(fn func(models.TelemetrySample)) SamplerOption {
	return func(s *Sampler) { s.onSample = fn }
}

// NewSampler creates a sampler. reporter may be nil to only emit samples locally.
func NewSampler(target Target, reporter Reporter, logger *zap.Logger, opts ...SamplerOption) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sampler{
		target:   target,
		reporter: reporter,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins sampling. It is a no-op if already running.
func (s *Sampler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(ctx, done)
	s.logger.Info("telemetry sampler started", zap.String("meeting_id", s.target.MeetingID()), zap.Duration("interval", s.interval))
}

// Stop ends sampling and waits for an in-flight tick to finish. Safe to call repeatedly.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("telemetry sampler stopped", zap.String("meeting_id", s.target.MeetingID()))
}

// Running reports whether the loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	sample, err := s.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("collect stats failed", zap.String("meeting_id", s.target.MeetingID()), zap.Error(err))
		}
		return
	}
	if s.onSample != nil {
		s.onSample(sample)
	}
	if s.reporter == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	if err := s.reporter.Report(rctx, sample); err != nil && ctx.Err() == nil {
		s.logger.Warn("report telemetry failed", zap.String("meeting_id", sample.System.MeetingID), zap.Error(err))
	}
}

// Sample takes one sample of the target now.
func (s *Sampler) Sample(ctx context.Context) (models.TelemetrySample, error) {
	report, err := s.target.Stats(ctx)
	if err != nil {
		return models.TelemetrySample{}, err
	}
	return Extract(report, s.target.MeetingID(), s.target.ParticipantCount(), s.now().UTC()), nil
}
