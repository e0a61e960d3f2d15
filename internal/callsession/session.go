// Package callsession orchestrates one call at a time: setup, the active phase with its timers,
// user actions and teardown. State changes are reported to the shell as events.
package callsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/attention"
	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/internal/telemetry"
)

var (
	ErrInvalidCall          = errors.New("peer and call kind are required")
	ErrCallInProgress       = errors.New("a call is already in progress")
	ErrCallAborted          = errors.New("call setup aborted by hangup")
	ErrNotActive            = errors.New("call is not active")
	ErrVideoOff             = errors.New("attentiveness requires an active video call with video on")
	ErrAttentionUnavailable = errors.New("no face analyzer configured")
	ErrEmptyMessage         = errors.New("message is empty")
)

// Bootstrapper obtains meeting and attendee descriptors.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, meetingID, userName string) (*models.JoinInfo, error)
}

// Config holds per-user session settings.
type Config struct {
	LocalUserID string
	UserName    string

	TickInterval      time.Duration // elapsed-time ticker, default 1s
	TelemetryInterval time.Duration // default telemetry.DefaultInterval
	AttentionInterval time.Duration // default attention.DefaultInterval
	SetupTimeout      time.Duration // bounds the whole setup sequence; 0 means unbounded
}

// Deps are the collaborators of a session. Reporter, Analyzer and RenderTarget may be nil.
type Deps struct {
	Bootstrap    Bootstrapper
	Adapter      *media.Adapter
	Reporter     telemetry.Reporter
	Analyzer     attention.Analyzer
	RenderTarget media.RenderTarget
	Logger       *zap.Logger
	Now          func() time.Time
}

// Handlers receive session output. OnError is called once for every call that fails.
// Handlers run on the goroutine that produced the change; elapsed, telemetry and attention
// events come from timer goroutines, so handlers must not call HangUp synchronously.
type Handlers struct {
	OnEvent func(Event)
	OnError func(error)
}

// Session is the call state machine: idle -> connecting -> active -> ended, with failed
// reachable from connecting and active.
type Session struct {
	cfg      Config
	deps     Deps
	handlers Handlers
	logger   *zap.Logger

	actionMu sync.Mutex // serializes user actions that call into the adapter

	mu              sync.Mutex
	gen             uint64
	status          models.CallStatus
	kind            models.CallKind
	meetingID       string
	peerID          string
	isMuted         bool
	isVideoOff      bool
	isScreenSharing bool
	participants    int
	elapsed         int
	attentive       bool
	chatLog         []models.ChatMessage

	setupCancel context.CancelFunc
	setupErr    error // engine failure reported while connecting
	handle      *media.Handle
	ticker      *loop
	sampler     *telemetry.Sampler
	poller      *attention.Poller
}

// New creates an idle session.
func New(cfg Config, deps Deps, handlers Handlers) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = telemetry.DefaultInterval
	}
	if cfg.AttentionInterval <= 0 {
		cfg.AttentionInterval = attention.DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{
		cfg:          cfg,
		deps:         deps,
		handlers:     handlers,
		logger:       deps.Logger.With(zap.String("user_id", cfg.LocalUserID)),
		status:       models.CallStatusIdle,
		participants: 1,
	}
}

// MeetingIDFor derives a fresh meeting id for a call between two users.
func MeetingIDFor(localUserID, peerID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", localUserID, peerID, at.UnixMilli())
}

// StartCall calls peerID in a new meeting. It blocks until the call is active or has failed.
func (s *Session) StartCall(ctx context.Context, peerID string, kind models.CallKind) error {
	if peerID == "" || !kind.Valid() {
		return ErrInvalidCall
	}
	return s.connect(ctx, MeetingIDFor(s.cfg.LocalUserID, peerID, s.deps.Now()), peerID, kind)
}

// JoinCall joins an existing meeting, e.g. one created by the caller's StartCall.
func (s *Session) JoinCall(ctx context.Context, meetingID string, kind models.CallKind) error {
	if meetingID == "" || !kind.Valid() {
		return ErrInvalidCall
	}
	return s.connect(ctx, meetingID, "", kind)
}

func (s *Session) connect(ctx context.Context, meetingID, peerID string, kind models.CallKind) error {
	s.mu.Lock()
	if s.status != models.CallStatusIdle {
		s.mu.Unlock()
		return ErrCallInProgress
	}
	s.gen++
	gen := s.gen
	s.status = models.CallStatusConnecting
	s.kind = kind
	s.meetingID = meetingID
	s.peerID = peerID
	s.isVideoOff = kind == models.CallKindAudio
	s.setupErr = nil

	setupCtx, cancel := context.WithCancel(ctx)
	if s.cfg.SetupTimeout > 0 {
		var cancelTimeout context.CancelFunc
		setupCtx, cancelTimeout = context.WithTimeout(setupCtx, s.cfg.SetupTimeout)
		cancelBoth := cancel
		cancel = func() { cancelTimeout(); cancelBoth() }
	}
	s.setupCancel = cancel
	snap := s.snapshotLocked()
	s.mu.Unlock()

	logger := s.logger.With(zap.String("meeting_id", meetingID))
	logger.Info("call connecting", zap.String("peer_id", peerID), zap.String("kind", string(kind)))
	s.emit(Event{Type: EventStatus, State: snap})

	handle, err := s.setup(setupCtx, gen, meetingID, kind)
	cancel()

	s.mu.Lock()
	if s.gen != gen || s.status != models.CallStatusConnecting {
		s.mu.Unlock()
		if handle != nil {
			s.stopHandle(handle)
		}
		logger.Info("call setup aborted")
		return ErrCallAborted
	}
	s.setupCancel = nil
	if s.setupErr != nil {
		err = s.setupErr
		s.setupErr = nil
	}
	if err != nil {
		s.status = models.CallStatusFailed
		s.resetLocked()
		snap = s.snapshotLocked()
		s.mu.Unlock()

		if handle != nil {
			s.stopHandle(handle)
		}
		logger.Warn("call failed during setup", zap.Error(err))
		s.emit(Event{Type: EventStatus, State: snap, Err: err})
		s.fail(err)
		return err
	}

	s.handle = handle
	s.status = models.CallStatusActive
	s.participants = handle.Participants()
	s.elapsed = 0
	s.ticker = startLoop(s.cfg.TickInterval, func() { s.onTick(gen) })
	s.sampler = telemetry.NewSampler(callTarget{adapter: s.deps.Adapter, handle: handle}, s.deps.Reporter, logger,
		telemetry.WithInterval(s.cfg.TelemetryInterval),
		telemetry.WithClock(s.deps.Now),
		telemetry.OnSample(func(sample models.TelemetrySample) { s.onSample(gen, sample) }),
	)
	s.sampler.Start()
	snap = s.snapshotLocked()
	s.mu.Unlock()

	logger.Info("call active", zap.String("attendee_id", handle.Attendee.AttendeeID))
	s.emit(Event{Type: EventStatus, State: snap})
	return nil
}

// setup runs probe, bootstrap, adapter start, video and audio initialization in order.
// A non-nil handle is returned whenever the adapter was started, so the caller can stop it.
func (s *Session) setup(ctx context.Context, gen uint64, meetingID string, kind models.CallKind) (*media.Handle, error) {
	if err := s.deps.Adapter.Probe(ctx); err != nil {
		return nil, err
	}
	info, err := s.deps.Bootstrap.Bootstrap(ctx, meetingID, s.cfg.UserName)
	if err != nil {
		return nil, err
	}
	handle, err := s.deps.Adapter.Start(ctx, *info, media.Callbacks{
		OnParticipants: func(n int) { s.onParticipants(gen, n) },
		OnFailure:      func(err error) { s.onEngineFailure(gen, err) },
	})
	if err != nil {
		return nil, err
	}
	if kind == models.CallKindVideo {
		if err := s.deps.Adapter.InitializeVideo(ctx, handle, s.deps.RenderTarget); err != nil {
			return handle, err
		}
	}
	if err := s.deps.Adapter.InitializeAudio(ctx, handle); err != nil {
		return handle, err
	}
	return handle, nil
}

// HangUp ends a connecting or active call. It is a no-op in any other state.
func (s *Session) HangUp() error {
	s.mu.Lock()
	switch s.status {
	case models.CallStatusConnecting:
		cancel := s.setupCancel
		s.setupCancel = nil
		s.gen++
		s.status = models.CallStatusEnded
		s.resetLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.logger.Info("call cancelled while connecting", zap.String("meeting_id", snap.MeetingID))
		s.emit(Event{Type: EventStatus, State: snap})
		return nil

	case models.CallStatusActive:
		res := s.detachLocked()
		s.gen++
		s.status = models.CallStatusEnded
		s.resetLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.teardown(res)
		s.logger.Info("call ended", zap.String("meeting_id", snap.MeetingID))
		s.emit(Event{Type: EventStatus, State: snap})
		return nil

	default:
		s.mu.Unlock()
		return nil
	}
}

// Close tears the session down; used when the shell goes away.
func (s *Session) Close() error {
	return s.HangUp()
}

// Reset returns an ended or failed session to idle so another call can start.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.status != models.CallStatusEnded && s.status != models.CallStatusFailed {
		s.mu.Unlock()
		return
	}
	s.status = models.CallStatusIdle
	s.kind = ""
	s.meetingID = ""
	s.peerID = ""
	s.resetLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventStatus, State: snap})
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ToggleMute flips the mute flag of an active call and returns the new value.
func (s *Session) ToggleMute() bool {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	if s.status != models.CallStatusActive {
		muted := s.isMuted
		s.mu.Unlock()
		return muted
	}
	s.isMuted = !s.isMuted
	muted, handle := s.isMuted, s.handle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.deps.Adapter.SetMuted(handle, muted); err != nil {
		s.logger.Warn("set muted failed", zap.Bool("muted", muted), zap.Error(err))
	}
	s.emit(Event{Type: EventMedia, State: snap})
	return muted
}

// ToggleVideo shows or hides local video of an active video call and returns whether video is off.
// Turning video off also stops the attentiveness poll.
func (s *Session) ToggleVideo() bool {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	if s.status != models.CallStatusActive || s.kind != models.CallKindVideo {
		off := s.isVideoOff
		s.mu.Unlock()
		return off
	}
	s.isVideoOff = !s.isVideoOff
	off, handle := s.isVideoOff, s.handle
	var poller *attention.Poller
	if off && s.poller != nil {
		poller = s.poller
		s.poller = nil
		s.attentive = false
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if err := s.deps.Adapter.SetVideoVisible(handle, !off); err != nil {
		s.logger.Warn("set video visible failed", zap.Bool("visible", !off), zap.Error(err))
	}
	s.emit(Event{Type: EventMedia, State: snap})
	if poller != nil {
		s.emit(Event{Type: EventAttentiveness, State: snap})
	}
	return off
}

// ToggleScreenShare starts or stops content share of an active call and returns whether sharing is on.
// Failures are reported as a notice and returned; the call keeps running.
func (s *Session) ToggleScreenShare(ctx context.Context) (bool, error) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	if s.status != models.CallStatusActive {
		s.mu.Unlock()
		return false, ErrNotActive
	}
	gen, handle := s.gen, s.handle
	s.mu.Unlock()

	sharing, err := s.deps.Adapter.ToggleContentShare(ctx, handle)

	s.mu.Lock()
	if s.gen != gen || s.status != models.CallStatusActive {
		s.mu.Unlock()
		return false, ErrNotActive
	}
	s.isScreenSharing = sharing
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(Event{Type: EventMedia, State: snap})
	if err != nil {
		s.logger.Warn("toggle screen share failed", zap.Error(err))
		s.emit(Event{Type: EventNotice, State: snap, Notice: "Screen sharing failed", Err: err})
	}
	return sharing, err
}

// SetAttentiveness turns the attentiveness poll on or off. Enabling requires an active
// video call with video on; disabling is always allowed.
func (s *Session) SetAttentiveness(enabled bool) error {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	s.mu.Lock()
	if !enabled {
		poller := s.poller
		s.poller = nil
		was := s.attentive
		s.attentive = false
		snap := s.snapshotLocked()
		s.mu.Unlock()
		if poller != nil {
			poller.Stop()
		}
		if was {
			s.emit(Event{Type: EventAttentiveness, State: snap})
		}
		return nil
	}

	if s.status != models.CallStatusActive || s.kind != models.CallKindVideo || s.isVideoOff {
		s.mu.Unlock()
		return ErrVideoOff
	}
	if s.deps.Analyzer == nil {
		s.mu.Unlock()
		return ErrAttentionUnavailable
	}
	if s.poller != nil {
		s.mu.Unlock()
		return nil
	}

	gen := s.gen
	var poller *attention.Poller
	poller = attention.NewPoller(frameSource{adapter: s.deps.Adapter, handle: s.handle}, s.deps.Analyzer, attention.Handlers{
		OnReading:  func(r models.AttentionReading) { s.onReading(gen, r) },
		OnNotice:   func(n attention.Notice) { s.onAttentionNotice(gen, n) },
		OnDisabled: func(reason attention.DisableReason) { s.onAttentionDisabled(poller, reason) },
	}, s.logger.With(zap.String("meeting_id", s.meetingID)), attention.WithInterval(s.cfg.AttentionInterval))
	s.poller = poller
	s.attentive = true
	snap := s.snapshotLocked()
	s.mu.Unlock()

	poller.Start()
	s.emit(Event{Type: EventAttentiveness, State: snap})
	return nil
}

// SendLocalMessage appends a message from the local user to the chat log.
func (s *Session) SendLocalMessage(content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Sender:    s.cfg.UserName,
		Content:   content,
		Timestamp: s.deps.Now(),
	}
	s.appendChat(msg)
	return msg, nil
}

// ReceiveMessage appends a message delivered by the chat transport.
func (s *Session) ReceiveMessage(msg models.ChatMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.deps.Now()
	}
	s.appendChat(msg)
}

func (s *Session) appendChat(msg models.ChatMessage) {
	s.mu.Lock()
	s.chatLog = append(s.chatLog, msg)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventChat, State: snap, Message: &msg})
}

func (s *Session) onTick(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.status != models.CallStatusActive {
		s.mu.Unlock()
		return
	}
	s.elapsed++
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventElapsed, State: snap})
}

func (s *Session) onParticipants(gen uint64, n int) {
	s.mu.Lock()
	if s.gen != gen || (s.status != models.CallStatusActive && s.status != models.CallStatusConnecting) {
		s.mu.Unlock()
		return
	}
	s.participants = n
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventParticipants, State: snap})
}

func (s *Session) onSample(gen uint64, sample models.TelemetrySample) {
	s.mu.Lock()
	if s.gen != gen || s.status != models.CallStatusActive {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventTelemetry, State: snap, Sample: &sample})
}

func (s *Session) onReading(gen uint64, r models.AttentionReading) {
	s.mu.Lock()
	if s.gen != gen || !s.attentive {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventAttention, State: snap, Reading: &r})
}

func (s *Session) onAttentionNotice(gen uint64, n attention.Notice) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: EventNotice, State: snap, Notice: n.Message, Err: n.Err})
}

func (s *Session) onAttentionDisabled(p *attention.Poller, reason attention.DisableReason) {
	s.mu.Lock()
	if s.poller != p {
		s.mu.Unlock()
		return
	}
	s.poller = nil
	s.attentive = false
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.logger.Info("attentiveness turned off", zap.String("reason", string(reason)))
	s.emit(Event{Type: EventAttentiveness, State: snap})
}

// onEngineFailure fails an active call. While connecting it records the error and
// aborts setup, and connect turns it into a setup failure.
func (s *Session) onEngineFailure(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	switch s.status {
	case models.CallStatusConnecting:
		if s.setupErr == nil {
			s.setupErr = err
		}
		cancel, meetingID := s.setupCancel, s.meetingID
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.logger.Warn("conferencing session failed while connecting", zap.String("meeting_id", meetingID), zap.Error(err))
		return
	case models.CallStatusActive:
	default:
		s.mu.Unlock()
		return
	}
	res := s.detachLocked()
	s.gen++
	s.status = models.CallStatusFailed
	s.resetLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.teardown(res)
	s.logger.Error("call failed", zap.String("meeting_id", snap.MeetingID), zap.Error(err))
	s.emit(Event{Type: EventStatus, State: snap, Err: err})
	s.fail(err)
}

// resources are the running parts of an active call.
type resources struct {
	handle  *media.Handle
	ticker  *loop
	sampler *telemetry.Sampler
	poller  *attention.Poller
}

func (s *Session) detachLocked() resources {
	res := resources{handle: s.handle, ticker: s.ticker, sampler: s.sampler, poller: s.poller}
	s.handle, s.ticker, s.sampler, s.poller = nil, nil, nil, nil
	return res
}

// teardown stops every timer before stopping the conferencing session.
func (s *Session) teardown(res resources) {
	res.ticker.stop()
	if res.poller != nil {
		res.poller.Stop()
	}
	if res.sampler != nil {
		res.sampler.Stop()
	}
	if res.handle != nil {
		s.stopHandle(res.handle)
	}
}

func (s *Session) stopHandle(h *media.Handle) {
	if err := s.deps.Adapter.Stop(h); err != nil {
		s.logger.Warn("stop conferencing session", zap.Error(err))
	}
}

func (s *Session) resetLocked() {
	s.isMuted = false
	s.isVideoOff = false
	s.isScreenSharing = false
	s.participants = 1
	s.elapsed = 0
	s.attentive = false
	s.chatLog = nil
}

func (s *Session) snapshotLocked() State {
	return State{
		Status:           s.status,
		Kind:             s.kind,
		MeetingID:        s.meetingID,
		PeerID:           s.peerID,
		IsMuted:          s.isMuted,
		IsVideoOff:       s.isVideoOff,
		IsScreenSharing:  s.isScreenSharing,
		ParticipantCount: s.participants,
		ElapsedSeconds:   s.elapsed,
		Attentiveness:    s.attentive,
		ChatLog:          append([]models.ChatMessage(nil), s.chatLog...),
	}
}

func (s *Session) emit(ev Event) {
	if s.handlers.OnEvent != nil {
		s.handlers.OnEvent(ev)
	}
}

func (s *Session) fail(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

// callTarget exposes the active call to the telemetry sampler.
type callTarget struct {
	adapter *media.Adapter
	handle  *media.Handle
}

func (t callTarget) Stats(ctx context.Context) (media.StatsReport, error) {
	return t.adapter.Stats(ctx, t.handle)
}

func (t callTarget) MeetingID() string     { return t.handle.Meeting.MeetingID }
func (t callTarget) ParticipantCount() int { return t.handle.Participants() }

// frameSource exposes local video frames to the attentiveness poller.
type frameSource struct {
	adapter *media.Adapter
	handle  *media.Handle
}

func (f frameSource) CaptureFrame(ctx context.Context) ([]byte, error) {
	return f.adapter.CaptureFrame(ctx, f.handle)
}
