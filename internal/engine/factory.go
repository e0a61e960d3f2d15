// Package engine is the conferencing engine behind media.Adapter: a pion/webrtc publisher
// connection fed by pion/mediadevices capture, a subscriber connection for remote media, and the
// realtime signaling connection that negotiates both and carries attendee presence.
package engine

import (
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/internal/realtime"
)

var (
	ErrCodecsUnavailable = errors.New("media codecs unavailable: build with CGO_ENABLED=1 and libvpx/libopus")
	ErrNoSignalingURL    = errors.New("meeting has no signaling url")
	ErrNoVideoTrack      = errors.New("capture returned no video track")
	ErrNoAudioTrack      = errors.New("capture returned no audio track")
	ErrUnknownTile       = errors.New("unknown video tile")
	ErrUnsupportedStream = errors.New("display stream was not captured by this engine")
	ErrNoDisplayFound    = errors.New("no display found")
	ErrNotConnected      = errors.New("no connected session")
)

// Config holds capture and transport settings.
type Config struct {
	ICEServers   []webrtc.ICEServer
	Width        int
	Height       int
	FrameRate    float32
	VideoBitrate int
	AudioBitrate int
	JPEGQuality  int
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 30
	}
	if c.VideoBitrate <= 0 {
		c.VideoBitrate = 800_000
	}
	if c.AudioBitrate <= 0 {
		c.AudioBitrate = 64_000
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 80
	}
	return c
}

// Factory creates engine sessions. It implements media.EngineFactory.
type Factory struct {
	cfg      Config
	selector *mediadevices.CodecSelector
	logger   *zap.Logger

	mu     sync.Mutex
	active *Session
	onChat func(models.ChatMessage)
}

// NewFactory prepares the codec selector shared by every session.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	selector, err := newCodecSelector(cfg.VideoBitrate, cfg.AudioBitrate)
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, selector: selector, logger: logger}, nil
}

// NewEngine returns a session for the meeting's signaling endpoint.
func (f *Factory) NewEngine(meeting models.MeetingDescriptor, attendee models.AttendeeDescriptor) (media.Engine, error) {
	if meeting.MediaPlacement == nil || meeting.MediaPlacement.SignalingURL == "" {
		return nil, ErrNoSignalingURL
	}
	return newSession(f, meeting, attendee), nil
}

// OnChat sets the handler for chat messages relayed by the signaling server.
func (f *Factory) OnChat(fn func(models.ChatMessage)) {
	f.mu.Lock()
	f.onChat = fn
	f.mu.Unlock()
}

func (f *Factory) chatHandler() func(models.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onChat
}

// SendChat relays msg to the other attendees of the connected session.
func (f *Factory) SendChat(msg models.ChatMessage) error {
	f.mu.Lock()
	s := f.active
	f.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	sig := s.signaler()
	if sig == nil {
		return ErrNotConnected
	}
	return sig.Send(realtime.EventChatMessage, realtime.ChatPayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
}

func (f *Factory) setActive(s *Session, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case active:
		f.active = s
	case f.active == s:
		f.active = nil
	}
}

// Access returns the media access used for permission probes and display capture.
func (f *Factory) Access() *Access {
	return &Access{cfg: f.cfg, selector: f.selector, logger: f.logger}
}

func (f *Factory) newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	f.selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: f.cfg.ICEServers})
}
