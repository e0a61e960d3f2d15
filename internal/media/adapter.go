package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
)

// ErrNoLocalVideo is returned when a frame is requested before local video was started.
var ErrNoLocalVideo = errors.New("local video not started")

// Callbacks receive session events translated by the adapter.
type Callbacks struct {
	OnParticipants func(count int)
	OnFailure      func(err error)
}

// Handle is one started conferencing session. All operations go through the Adapter.
type Handle struct {
	Meeting  models.MeetingDescriptor
	Attendee models.AttendeeDescriptor

	engine       Engine
	participants *ParticipantCounter
	callbacks    Callbacks

	opMu sync.Mutex // serializes engine calls that change session state

	mu           sync.Mutex
	stopped      bool
	unsubscribe  func()
	videoStarted bool
	audioStarted bool
	display      DisplayStream
}

// Participants returns the current participant count (at least 1).
func (h *Handle) Participants() int { return h.participants.Count() }

// Sharing reports whether content share is active.
func (h *Handle) Sharing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.display != nil
}

// Stopped reports whether Stop has run.
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Adapter drives conferencing engines created by an EngineFactory.
type Adapter struct {
	factory EngineFactory
	access  MediaAccess
	logger  *zap.Logger
}

// NewAdapter creates an adapter.
func NewAdapter(factory EngineFactory, access MediaAccess, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{factory: factory, access: access, logger: logger}
}

// Probe checks camera and microphone permission. Callers run it before Start.
func (a *Adapter) Probe(ctx context.Context) error {
	if err := a.access.ProbeUserMedia(ctx); err != nil {
		a.logger.Warn("media permission probe failed", zap.Error(err))
		return &PermissionError{Err: err}
	}
	return nil
}

// Start constructs the engine for info, subscribes to its events and starts it.
func (a *Adapter) Start(ctx context.Context, info models.JoinInfo, cb Callbacks) (*Handle, error) {
	if info.Meeting == nil || info.Attendee == nil {
		return nil, errors.New("start session: meeting and attendee required")
	}
	engine, err := a.factory.NewEngine(*info.Meeting, *info.Attendee)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	h := &Handle{
		Meeting:      *info.Meeting,
		Attendee:     *info.Attendee,
		engine:       engine,
		participants: NewParticipantCounter(),
		callbacks:    cb,
	}
	h.unsubscribe = engine.Subscribe(handleObserver{h: h})

	if err := engine.Start(ctx); err != nil {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		h.unsubscribe()
		if stopErr := engine.Stop(); stopErr != nil {
			a.logger.Warn("stop engine after failed start", zap.Error(stopErr))
		}
		return nil, fmt.Errorf("start session: %w", err)
	}
	a.logger.Info("conferencing session started",
		zap.String("meeting_id", h.Meeting.MeetingID),
		zap.String("attendee_id", h.Attendee.AttendeeID),
	)
	return h, nil
}

// InitializeVideo starts the first video input and binds the local tile to target.
// Every failing step returns a *DeviceError carrying its own reason.
func (a *Adapter) InitializeVideo(ctx context.Context, h *Handle, target RenderTarget) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	if h.Stopped() {
		return ErrSessionStopped
	}

	devices, err := h.engine.VideoInputDevices(ctx)
	if err != nil {
		return &DeviceError{Reason: ErrDeviceEnumeration, Err: err}
	}
	if len(devices) == 0 {
		return &DeviceError{Reason: ErrNoVideoDevice}
	}
	device := devices[0]
	if err := h.engine.StartVideoInput(ctx, device.ID); err != nil {
		return &DeviceError{Reason: ErrStartInputFailed, Err: err}
	}
	h.mu.Lock()
	h.videoStarted = true
	h.mu.Unlock()

	tileID, err := h.engine.StartLocalVideoTile()
	if err != nil {
		return &DeviceError{Reason: ErrLocalTileCreationFailed, Err: err}
	}
	if tileID <= 0 {
		return &DeviceError{Reason: ErrInvalidTileID, Err: fmt.Errorf("tile id %d", tileID)}
	}
	if target == nil {
		return &DeviceError{Reason: ErrRenderTargetMissing}
	}
	if err := h.engine.BindVideoElement(tileID, target); err != nil {
		return &DeviceError{Reason: ErrBindFailed, Err: err}
	}
	a.logger.Info("local video started", zap.String("device_id", device.ID), zap.String("label", device.Label), zap.Int("tile_id", tileID))
	return nil
}

// InitializeAudio starts the first audio input. A call without audio is acceptable,
// so missing devices and start failures are logged and nil is returned.
func (a *Adapter) InitializeAudio(ctx context.Context, h *Handle) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	if h.Stopped() {
		return ErrSessionStopped
	}

	devices, err := h.engine.AudioInputDevices(ctx)
	if err != nil {
		a.logger.Warn("audio device enumeration failed, continuing without audio", zap.Error(err))
		return nil
	}
	if len(devices) == 0 {
		a.logger.Warn("no audio input devices, continuing without audio")
		return nil
	}
	if err := h.engine.StartAudioInput(ctx, devices[0].ID); err != nil {
		a.logger.Warn("start audio input failed, continuing without audio", zap.String("device_id", devices[0].ID), zap.Error(err))
		return nil
	}
	h.mu.Lock()
	h.audioStarted = true
	h.mu.Unlock()
	a.logger.Info("local audio started", zap.String("device_id", devices[0].ID))
	return nil
}

// ToggleContentShare starts content share from a new display capture, or stops the running one.
// It returns whether sharing is active afterwards. Errors leave the session running.
func (a *Adapter) ToggleContentShare(ctx context.Context, h *Handle) (bool, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	if h.Stopped() {
		return false, ErrSessionStopped
	}

	h.mu.Lock()
	display := h.display
	h.mu.Unlock()
	if display != nil {
		err := errors.Join(h.engine.StopContentShare(), display.Close())
		h.mu.Lock()
		h.display = nil
		h.mu.Unlock()
		if err != nil {
			return false, fmt.Errorf("stop content share: %w", err)
		}
		return false, nil
	}

	stream, err := a.access.RequestDisplayMedia(ctx)
	if err != nil {
		return false, fmt.Errorf("request display media: %w", err)
	}
	if err := h.engine.StartContentShare(ctx, stream); err != nil {
		_ = stream.Close()
		return false, fmt.Errorf("start content share: %w", err)
	}
	h.mu.Lock()
	h.display = stream
	h.mu.Unlock()
	return true, nil
}

// SetMuted mutes or unmutes local audio.
func (a *Adapter) SetMuted(h *Handle, muted bool) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	h.mu.Lock()
	stopped, started := h.stopped, h.audioStarted
	h.mu.Unlock()
	if stopped {
		return ErrSessionStopped
	}
	if !started {
		return nil
	}
	return h.engine.SetAudioMuted(muted)
}

// SetVideoVisible shows or hides the local video tile.
func (a *Adapter) SetVideoVisible(h *Handle, visible bool) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	h.mu.Lock()
	stopped, started := h.stopped, h.videoStarted
	h.mu.Unlock()
	if stopped {
		return ErrSessionStopped
	}
	if !started {
		return nil
	}
	return h.engine.SetLocalVideoEnabled(visible)
}

// Stats returns the engine's current statistics report.
func (a *Adapter) Stats(ctx context.Context, h *Handle) (StatsReport, error) {
	if h.Stopped() {
		return nil, ErrSessionStopped
	}
	return h.engine.Stats(ctx)
}

// CaptureFrame returns the current local video frame as JPEG.
func (a *Adapter) CaptureFrame(ctx context.Context, h *Handle) ([]byte, error) {
	h.mu.Lock()
	stopped, started := h.stopped, h.videoStarted
	h.mu.Unlock()
	if stopped {
		return nil, ErrSessionStopped
	}
	if !started {
		return nil, ErrNoLocalVideo
	}
	return h.engine.CaptureFrame(ctx)
}

// Stop ends content share, stops local inputs, unsubscribes and stops the engine.
// Calling it again is a no-op.
func (a *Adapter) Stop(h *Handle) error {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	display := h.display
	h.display = nil
	video, audio := h.videoStarted, h.audioStarted
	h.videoStarted, h.audioStarted = false, false
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	h.mu.Unlock()

	var errs []error
	if display != nil {
		errs = append(errs, h.engine.StopContentShare(), display.Close())
	}
	if video {
		errs = append(errs, h.engine.StopVideoInput())
	}
	if audio {
		errs = append(errs, h.engine.StopAudioInput())
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	errs = append(errs, h.engine.Stop())

	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("conferencing session stopped with errors", zap.String("meeting_id", h.Meeting.MeetingID), zap.Error(err))
		return err
	}
	a.logger.Info("conferencing session stopped", zap.String("meeting_id", h.Meeting.MeetingID))
	return nil
}

// handleObserver turns engine events into participant counts and failure callbacks.
type handleObserver struct {
	h *Handle
}

func (o handleObserver) PresenceChanged(attendeeID string, present bool) {
	h := o.h
	if attendeeID == h.Attendee.AttendeeID || h.Stopped() {
		return
	}
	count := h.participants.Apply(present)
	if h.callbacks.OnParticipants != nil {
		h.callbacks.OnParticipants(count)
	}
}

func (o handleObserver) SessionFailed(err error) {
	if o.h.Stopped() {
		return
	}
	if o.h.callbacks.OnFailure != nil {
		o.h.callbacks.OnFailure(err)
	}
}
