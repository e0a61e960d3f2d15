package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/internal/realtime"
)

const localTileID = 1

type negotiated struct {
	desc webrtc.SessionDescription
	err  error
}

// Session is one meeting connection. It implements media.Engine.
type Session struct {
	factory  *Factory
	meeting  models.MeetingDescriptor
	attendee models.AttendeeDescriptor
	logger   *zap.Logger

	obsMu     sync.Mutex
	observers map[int]media.Observer
	nextObs   int

	failOnce sync.Once

	mu            sync.Mutex
	stopping      bool
	sig           *realtime.Signaler
	pub           *webrtc.PeerConnection
	sub           *webrtc.PeerConnection
	videoSender   *webrtc.RTPSender
	audioSender   *webrtc.RTPSender
	videoTrack    mediadevices.Track
	audioTrack    mediadevices.Track
	shareTrack    mediadevices.Track
	videoOn       bool
	muted         bool
	answers       chan negotiated
	remoteSet     bool
	pendingICE    []webrtc.ICECandidateInit
	pendingSubICE []webrtc.ICECandidateInit
	remotes       map[string]bool
	subscriber    subscribeState
	render        *renderLoop
}

func newSession(f *Factory, meeting models.MeetingDescriptor, attendee models.AttendeeDescriptor) *Session {
	return &Session{
		factory:   f,
		meeting:   meeting,
		attendee:  attendee,
		logger:    f.logger.With(zap.String("meeting_id", meeting.MeetingID), zap.String("attendee_id", attendee.AttendeeID)),
		observers: make(map[int]media.Observer),
		videoOn:   true,
		remotes:   make(map[string]bool),
	}
}

func (s *Session) Subscribe(obs media.Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) observerList() []media.Observer {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]media.Observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

// fail reports a session failure once, on a fresh goroutine, unless Stop is in progress.
func (s *Session) fail(err error) {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return
	}
	s.failOnce.Do(func() {
		s.logger.Error("conferencing session failed", zap.Error(err))
		observers := s.observerList()
		go func() {
			for _, obs := range observers {
				obs.SessionFailed(err)
			}
		}()
	})
}

// Start connects to signaling, joins the meeting and negotiates the publisher connection.
// Video and audio senders exist from the start; inputs are attached later without renegotiation.
func (s *Session) Start(ctx context.Context) error {
	pc, err := s.factory.newPeerConnection()
	if err != nil {
		return fmt.Errorf("create publisher connection: %w", err)
	}
	sendonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}
	video, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, sendonly)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("add video transceiver: %w", err)
	}
	audio, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, sendonly)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("add audio transceiver: %w", err)
	}
	answers := make(chan negotiated, 1)

	s.mu.Lock()
	s.pub = pc
	s.videoSender = video.Sender()
	s.audioSender = audio.Sender()
	s.answers = answers
	s.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			s.sendICE(realtime.TargetPublisher, c)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("publisher connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			s.fail(fmt.Errorf("publisher connection %s", state))
		}
	})

	sig, err := realtime.Dial(ctx, s.meeting.MediaPlacement.SignalingURL, realtime.DialParams{
		MeetingID:  s.meeting.MeetingID,
		AttendeeID: s.attendee.AttendeeID,
		Token:      s.attendee.JoinToken,
	}, s.onSignal, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sig = sig
	s.mu.Unlock()
	go s.watch(sig)

	if err := sig.Send(realtime.EventJoin, nil); err != nil {
		return fmt.Errorf("join meeting: %w", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := sig.Send(realtime.EventPublisherOffer, realtime.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sig.Done():
		return fmt.Errorf("signaling closed during negotiation: %w", sig.Err())
	case ans := <-answers:
		if ans.err != nil {
			return ans.err
		}
		if err := pc.SetRemoteDescription(ans.desc); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingICE
	s.pendingICE = nil
	s.mu.Unlock()
	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			s.logger.Debug("add buffered ice candidate", zap.Error(err))
		}
	}
	s.factory.setActive(s, true)
	s.logger.Info("publisher negotiated")
	return nil
}

func (s *Session) watch(sig *realtime.Signaler) {
	<-sig.Done()
	if err := sig.Err(); err != nil {
		s.fail(fmt.Errorf("signaling: %w", err))
	}
}

func (s *Session) signaler() *realtime.Signaler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

// Stop closes every track and connection. Safe to call on a session that never started.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	render := s.render
	s.render = nil
	tracks := []mediadevices.Track{s.videoTrack, s.audioTrack}
	s.videoTrack, s.audioTrack, s.shareTrack = nil, nil, nil
	pub, sub, sig := s.pub, s.sub, s.sig
	s.subscriber.stop()
	s.mu.Unlock()

	var errs []error
	for _, t := range tracks {
		if t != nil {
			errs = append(errs, t.Close())
		}
	}
	render.stop()
	if pub != nil {
		errs = append(errs, pub.Close())
	}
	if sub != nil {
		errs = append(errs, sub.Close())
	}
	if sig != nil {
		errs = append(errs, sig.Close())
	}
	s.factory.setActive(s, false)
	s.logger.Info("conferencing session closed")
	return errors.Join(errs...)
}

func (s *Session) VideoInputDevices(ctx context.Context) ([]media.Device, error) {
	return listDevices(mediadevices.VideoInput), nil
}

func (s *Session) AudioInputDevices(ctx context.Context) ([]media.Device, error) {
	return listDevices(mediadevices.AudioInput), nil
}

func listDevices(kind mediadevices.MediaDeviceType) []media.Device {
	var out []media.Device
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == kind {
			out = append(out, media.Device{ID: d.DeviceID, Label: d.Label})
		}
	}
	return out
}

// StartVideoInput captures the device and sends it, unless content share owns the video sender.
func (s *Session) StartVideoInput(ctx context.Context, deviceID string) error {
	cfg := s.factory.cfg
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(deviceID)
			c.Width = prop.Int(cfg.Width)
			c.Height = prop.Int(cfg.Height)
			c.FrameRate = prop.Float(cfg.FrameRate)
		},
		Codec: s.factory.selector,
	})
	if err != nil {
		return err
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return ErrNoVideoTrack
	}
	track := tracks[0]

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = track.Close()
		return media.ErrSessionStopped
	}
	old := s.videoTrack
	s.videoTrack = track
	s.videoOn = true
	sender, sharing := s.videoSender, s.shareTrack != nil
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if !sharing {
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("attach video track: %w", err)
		}
	}
	s.logger.Info("video input started", zap.String("device_id", deviceID), zap.String("track_id", track.ID()))
	return nil
}

func (s *Session) StopVideoInput() error {
	s.mu.Lock()
	track, render := s.videoTrack, s.render
	s.videoTrack, s.render = nil, nil
	sender, sharing := s.videoSender, s.shareTrack != nil
	s.mu.Unlock()
	if track == nil {
		return nil
	}
	var errs []error
	if !sharing && sender != nil {
		errs = append(errs, sender.ReplaceTrack(nil))
	}
	errs = append(errs, track.Close())
	render.stop()
	return errors.Join(errs...)
}

func (s *Session) StartAudioInput(ctx context.Context, deviceID string) error {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(deviceID)
		},
		Codec: s.factory.selector,
	})
	if err != nil {
		return err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return ErrNoAudioTrack
	}
	track := tracks[0]

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = track.Close()
		return media.ErrSessionStopped
	}
	old := s.audioTrack
	s.audioTrack = track
	sender, muted := s.audioSender, s.muted
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if !muted {
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("attach audio track: %w", err)
		}
	}
	return nil
}

func (s *Session) StopAudioInput() error {
	s.mu.Lock()
	track, sender := s.audioTrack, s.audioSender
	s.audioTrack = nil
	s.mu.Unlock()
	if track == nil {
		return nil
	}
	return errors.Join(sender.ReplaceTrack(nil), track.Close())
}

func (s *Session) StartLocalVideoTile() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videoTrack == nil {
		return 0, ErrNoVideoTrack
	}
	return localTileID, nil
}

// BindVideoElement renders the local camera into target until the input stops.
func (s *Session) BindVideoElement(tileID int, target media.RenderTarget) error {
	if tileID != localTileID {
		return ErrUnknownTile
	}
	s.mu.Lock()
	track, ok := s.videoTrack.(*mediadevices.VideoTrack)
	if !ok {
		s.mu.Unlock()
		return ErrNoVideoTrack
	}
	old := s.render
	s.render = startRender(track.NewReader(true), target, s.logger)
	s.mu.Unlock()
	old.stop()
	return nil
}

func (s *Session) SetLocalVideoEnabled(enabled bool) error {
	s.mu.Lock()
	s.videoOn = enabled
	sender, track, sharing := s.videoSender, s.videoTrack, s.shareTrack != nil
	s.mu.Unlock()
	if sharing || sender == nil {
		return nil
	}
	if enabled && track != nil {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

func (s *Session) SetAudioMuted(muted bool) error {
	s.mu.Lock()
	s.muted = muted
	sender, track := s.audioSender, s.audioTrack
	s.mu.Unlock()
	if sender == nil {
		return nil
	}
	if !muted && track != nil {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// StartContentShare sends the display capture in place of the camera.
func (s *Session) StartContentShare(ctx context.Context, stream media.DisplayStream) error {
	display, ok := stream.(*DisplayStream)
	if !ok {
		return ErrUnsupportedStream
	}
	track, err := display.videoTrack()
	if err != nil {
		return err
	}
	s.mu.Lock()
	sender := s.videoSender
	s.shareTrack = track
	s.mu.Unlock()
	if sender == nil {
		return media.ErrSessionStopped
	}
	if err := sender.ReplaceTrack(track); err != nil {
		s.mu.Lock()
		s.shareTrack = nil
		s.mu.Unlock()
		return fmt.Errorf("attach display track: %w", err)
	}
	s.logger.Info("content share started", zap.String("track_id", track.ID()))
	return nil
}

// StopContentShare restores the camera (if shown). The display stream is closed by its owner.
func (s *Session) StopContentShare() error {
	s.mu.Lock()
	if s.shareTrack == nil {
		s.mu.Unlock()
		return media.ErrNotSharing
	}
	s.shareTrack = nil
	sender, track, videoOn := s.videoSender, s.videoTrack, s.videoOn
	s.mu.Unlock()
	if sender == nil {
		return nil
	}
	if videoOn && track != nil {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// Stats merges the publisher and subscriber statistics.
func (s *Session) Stats(ctx context.Context) (media.StatsReport, error) {
	s.mu.Lock()
	pub, sub := s.pub, s.sub
	s.mu.Unlock()
	if pub == nil {
		return nil, media.ErrSessionStopped
	}
	report := convertStats(pub.GetStats())
	if sub != nil {
		report = append(report, convertStats(sub.GetStats())...)
	}
	return report, nil
}

func (s *Session) CaptureFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	track, ok := s.videoTrack.(*mediadevices.VideoTrack)
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoVideoTrack
	}
	return captureJPEG(ctx, track.NewReader(true), s.factory.cfg.JPEGQuality)
}
