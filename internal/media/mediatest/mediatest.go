// Package mediatest provides in-memory implementations of the media interfaces for tests.
package mediatest

import (
	"context"
	"image"
	"sync"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
)

// Engine is a scriptable media.Engine. Set the exported fields before use.
type Engine struct {
	VideoDevices []media.Device
	AudioDevices []media.Device
	TileID       int
	Report       media.StatsReport
	Frame        []byte

	VideoDevicesErr error
	AudioDevicesErr error
	StartErr        error
	StartVideoErr   error
	StartAudioErr   error
	TileErr         error
	BindErr         error
	ContentShareErr error
	StatsErr        error
	FrameErr        error

	// OnStartVideoInput runs inside StartVideoInput, e.g. to Fail the session mid-setup.
	OnStartVideoInput func()

	mu           sync.Mutex
	calls        map[string]int
	observers    map[int]media.Observer
	nextObserver int
	muted        bool
	videoEnabled bool
	sharing      bool
	bound        media.RenderTarget
}

// NewEngine returns an engine with one camera, one microphone and tile id 1.
func NewEngine() *Engine {
	return &Engine{
		VideoDevices: []media.Device{{ID: "cam-0", Label: "FaceTime HD Camera"}},
		AudioDevices: []media.Device{{ID: "mic-0", Label: "Built-in Microphone"}},
		TileID:       1,
		Frame:        []byte{0xff, 0xd8, 0xff, 0xd9},
		videoEnabled: true,
	}
}

func (e *Engine) record(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[name]++
}

// Calls returns how many times the named method ran.
func (e *Engine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// Subscribers returns the number of active observers.
func (e *Engine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.observers)
}

// EmitPresence delivers a presence change to every observer.
func (e *Engine) EmitPresence(attendeeID string, present bool) {
	for _, obs := range e.snapshotObservers() {
		obs.PresenceChanged(attendeeID, present)
	}
}

// Fail reports an engine failure to every observer.
func (e *Engine) Fail(err error) {
	for _, obs := range e.snapshotObservers() {
		obs.SessionFailed(err)
	}
}

func (e *Engine) snapshotObservers() []media.Observer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]media.Observer, 0, len(e.observers))
	for i := 0; i < e.nextObserver; i++ {
		if obs, ok := e.observers[i]; ok {
			out = append(out, obs)
		}
	}
	return out
}

// Muted reports the last SetAudioMuted value.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// VideoEnabled reports the last SetLocalVideoEnabled value.
func (e *Engine) VideoEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.videoEnabled
}

// Sharing reports whether content share is running.
func (e *Engine) Sharing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sharing
}

// Bound returns the target passed to BindVideoElement.
func (e *Engine) Bound() media.RenderTarget {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bound
}

func (e *Engine) Subscribe(obs media.Observer) func() {
	e.record("Subscribe")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.observers == nil {
		e.observers = make(map[int]media.Observer)
	}
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = obs
	return func() {
		e.record("Unsubscribe")
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.record("Start")
	return e.StartErr
}

func (e *Engine) Stop() error {
	e.record("Stop")
	return nil
}

func (e *Engine) VideoInputDevices(ctx context.Context) ([]media.Device, error) {
	e.record("VideoInputDevices")
	return e.VideoDevices, e.VideoDevicesErr
}

func (e *Engine) AudioInputDevices(ctx context.Context) ([]media.Device, error) {
	e.record("AudioInputDevices")
	return e.AudioDevices, e.AudioDevicesErr
}

func (e *Engine) StartVideoInput(ctx context.Context, deviceID string) error {
	e.record("StartVideoInput")
	if e.OnStartVideoInput != nil {
		e.OnStartVideoInput()
	}
	return e.StartVideoErr
}

func (e *Engine) StopVideoInput() error {
	e.record("StopVideoInput")
	return nil
}

func (e *Engine) StartAudioInput(ctx context.Context, deviceID string) error {
	e.record("StartAudioInput")
	return e.StartAudioErr
}

func (e *Engine) StopAudioInput() error {
	e.record("StopAudioInput")
	return nil
}

func (e *Engine) StartLocalVideoTile() (int, error) {
	e.record("StartLocalVideoTile")
	return e.TileID, e.TileErr
}

func (e *Engine) BindVideoElement(tileID int, target media.RenderTarget) error {
	e.record("BindVideoElement")
	if e.BindErr != nil {
		return e.BindErr
	}
	e.mu.Lock()
	e.bound = target
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetLocalVideoEnabled(enabled bool) error {
	e.record("SetLocalVideoEnabled")
	e.mu.Lock()
	e.videoEnabled = enabled
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetAudioMuted(muted bool) error {
	e.record("SetAudioMuted")
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
	return nil
}

func (e *Engine) StartContentShare(ctx context.Context, stream media.DisplayStream) error {
	e.record("StartContentShare")
	if e.ContentShareErr != nil {
		return e.ContentShareErr
	}
	e.mu.Lock()
	e.sharing = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) StopContentShare() error {
	e.record("StopContentShare")
	e.mu.Lock()
	e.sharing = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) Stats(ctx context.Context) (media.StatsReport, error) {
	e.record("Stats")
	return e.Report, e.StatsErr
}

func (e *Engine) CaptureFrame(ctx context.Context) ([]byte, error) {
	e.record("CaptureFrame")
	return e.Frame, e.FrameErr
}

// Factory hands out Engine and records the descriptors it was asked for.
type Factory struct {
	Engine *Engine
	Err    error

	mu       sync.Mutex
	meetings []models.MeetingDescriptor
}

func (f *Factory) NewEngine(meeting models.MeetingDescriptor, attendee models.AttendeeDescriptor) (media.Engine, error) {
	f.mu.Lock()
	f.meetings = append(f.meetings, meeting)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Engine, nil
}

// Meetings returns the meetings engines were created for.
func (f *Factory) Meetings() []models.MeetingDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MeetingDescriptor(nil), f.meetings...)
}

// Access is a scriptable media.MediaAccess.
type Access struct {
	ProbeErr   error
	DisplayErr error

	mu      sync.Mutex
	probes  int
	streams []*DisplayStream
}

func (a *Access) ProbeUserMedia(ctx context.Context) error {
	a.mu.Lock()
	a.probes++
	a.mu.Unlock()
	return a.ProbeErr
}

func (a *Access) RequestDisplayMedia(ctx context.Context) (media.DisplayStream, error) {
	if a.DisplayErr != nil {
		return nil, a.DisplayErr
	}
	s := &DisplayStream{}
	a.mu.Lock()
	a.streams = append(a.streams, s)
	a.mu.Unlock()
	return s, nil
}

// Probes returns how many permission probes ran.
func (a *Access) Probes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probes
}

// Streams returns every display stream handed out.
func (a *Access) Streams() []*DisplayStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*DisplayStream(nil), a.streams...)
}

// DisplayStream counts Close calls.
type DisplayStream struct {
	mu     sync.Mutex
	closed int
}

func (s *DisplayStream) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

// Closed returns how many times Close ran.
func (s *DisplayStream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RenderTarget counts rendered frames.
type RenderTarget struct {
	mu     sync.Mutex
	frames int
}

func (r *RenderTarget) RenderFrame(img image.Image) {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
}

// Frames returns how many frames were rendered.
func (r *RenderTarget) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
