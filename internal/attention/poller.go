// Package attention runs a best-effort attentiveness poll over the local video:
// it captures a frame on an interval, sends it to a face-analysis service and turns the
// result into attention and emotion readings. Repeated failures or a persistently empty
// frame disable the poll instead of affecting the call.
package attention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
)

const (
	// DefaultInterval is the poll period.
	DefaultInterval = 3 * time.Second
	// MaxConsecutiveFailures disables the poller once this many capture or analysis failures happen in a row.
	MaxConsecutiveFailures = 3
	// NoFaceNoticeAt is the no-face streak length that triggers the one-time notice.
	NoFaceNoticeAt = 2
	// MaxNoFaceTicks disables the poller once the no-face streak exceeds it.
	MaxNoFaceTicks = 10
)

// FrameSource provides still frames (JPEG) of the local video.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// Analyzer detects faces in a still image.
type Analyzer interface {
	DetectFaces(ctx context.Context, image []byte) ([]FaceDetail, error)
}

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	NoticeNoFace         NoticeKind = "no_face"
	NoticeAnalysisFailed NoticeKind = "analysis_failed"
)

// Notice is a transient user-facing message.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// DisableReason says why the poller stopped itself.
type DisableReason string

const (
	DisabledByFailures DisableReason = "consecutive_failures"
	DisabledByNoFace   DisableReason = "no_face"
)

// Handlers receive poller output. Any of them may be nil. They run on the poll goroutine.
type Handlers struct {
	OnReading  func(models.AttentionReading)
	OnNotice   func(Notice)
	OnDisabled func(DisableReason)
}

// Poller is the attentiveness loop. Its counters are the only state kept between ticks.
type Poller struct {
	frames   FrameSource
	analyzer Analyzer
	handlers Handlers
	interval time.Duration
	logger   *zap.Logger

	mu                     sync.Mutex
	consecutiveFailures    int
	consecutiveNoFaceTicks int
	cancel                 context.CancelFunc
	done                   chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPoller creates a stopped poller.
func NewPoller(frames FrameSource, analyzer Analyzer, handlers Handlers, logger *zap.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		frames:   frames,
		analyzer: analyzer,
		handlers: handlers,
		interval: DefaultInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start resets the counters and begins polling. It returns false if already running.
func (p *Poller) Start() bool {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return false
	}
	p.consecutiveFailures = 0
	p.consecutiveNoFaceTicks = 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go func() {
		reason, disabled := p.run(ctx, done)
		close(done)
		if disabled && p.handlers.OnDisabled != nil {
			p.handlers.OnDisabled(reason)
		}
	}()
	p.logger.Info("attentiveness poller started", zap.Duration("interval", p.interval))
	return true
}

// Stop ends polling and waits for an in-flight tick. Safe to call at any time.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("attentiveness poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) (DisableReason, bool) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
			reason, disable := p.tick(ctx)
			if !disable {
				continue
			}
			p.mu.Lock()
			if p.done == done {
				p.cancel()
				p.cancel, p.done = nil, nil
			}
			p.mu.Unlock()
			p.logger.Info("attentiveness poller disabled itself", zap.String("reason", string(reason)))
			return reason, true
		}
	}
}

// tick runs one poll. It reports whether the poller must disable itself.
func (p *Poller) tick(ctx context.Context) (DisableReason, bool) {
	frame, err := p.capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		return p.failure(&CaptureError{Err: err})
	}

	faces, err := p.analyze(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		return p.failure(&AnalysisError{Err: err})
	}

	// analysis returned, so the failure streak ends with or without faces
	if len(faces) == 0 {
		p.mu.Lock()
		p.consecutiveFailures = 0
		p.consecutiveNoFaceTicks++
		n := p.consecutiveNoFaceTicks
		p.mu.Unlock()

		if n == NoFaceNoticeAt {
			p.notify(Notice{Kind: NoticeNoFace, Message: "No face detected. Make sure you are visible to the camera."})
			p.emit(models.NeutralReading())
		}
		if n > MaxNoFaceTicks {
			return DisabledByNoFace, true
		}
		return "", false
	}

	p.mu.Lock()
	p.consecutiveFailures = 0
	p.consecutiveNoFaceTicks = 0
	p.mu.Unlock()
	p.emit(Classify(faces))
	return "", false
}

func (p *Poller) failure(err error) (DisableReason, bool) {
	p.mu.Lock()
	p.consecutiveFailures++
	n := p.consecutiveFailures
	p.mu.Unlock()

	p.logger.Warn("attentiveness poll failed", zap.Int("consecutive", n), zap.Error(err))
	if n < MaxConsecutiveFailures {
		return "", false
	}
	p.notify(Notice{Kind: NoticeAnalysisFailed, Message: "Face analysis is unavailable and has been turned off.", Err: err})
	return DisabledByFailures, true
}

func (p *Poller) capture(ctx context.Context) (frame []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame source panic: %v", r)
		}
	}()
	return p.frames.CaptureFrame(ctx)
}

func (p *Poller) analyze(ctx context.Context, frame []byte) (faces []FaceDetail, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panic: %v", r)
		}
	}()
	return p.analyzer.DetectFaces(ctx, frame)
}

func (p *Poller) emit(r models.AttentionReading) {
	if p.handlers.OnReading != nil {
		p.handlers.OnReading(r)
	}
}

func (p *Poller) notify(n Notice) {
	if p.handlers.OnNotice != nil {
		p.handlers.OnNotice(n)
	}
}
