package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// RTP buffer size (MTU-friendly). Used with sync.Pool to avoid per-packet allocs.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// ErrNoStream is returned to subscribers when nobody else in the meeting publishes media.
var ErrNoStream = errors.New("no_stream")

// SendFunc delivers a signaling event to one client.
type SendFunc func(event string, payload interface{})

// SFU relays each attendee's published tracks to the other attendees of the same meeting.
type SFU struct {
	rooms map[string]*sfuRoom
	mu    sync.RWMutex
	log   *zap.Logger
	cfg   webrtc.Configuration
}

type sfuRoom struct {
	meetingID   string
	publishers  map[string]*publisherPeer  // by attendee id
	subscribers map[string]*subscriberPeer // by client id
	mu          sync.Mutex
	log         *zap.Logger
}

type publisherPeer struct {
	pc     *webrtc.PeerConnection
	tracks []*relayTrack
}

type subscriberPeer struct {
	pc         *webrtc.PeerConnection
	attendeeID string
	send       SendFunc
}

type relayTrack struct {
	owner  string
	remote *webrtc.TrackRemote
	mu     sync.Mutex
	locals []*webrtc.TrackLocalStaticRTP
}

// NewSFU creates an SFU with the given ICE (STUN/TURN) servers.
func NewSFU(log *zap.Logger, iceServers []webrtc.ICEServer) *SFU {
	if log == nil {
		log = zap.NewNop()
	}
	if len(iceServers) == 0 {
		iceServers = defaultICE
	}
	return &SFU{
		rooms: make(map[string]*sfuRoom),
		log:   log,
		cfg:   webrtc.Configuration{ICEServers: iceServers},
	}
}

func (s *SFU) room(meetingID string, create bool) *sfuRoom {
	if !create {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.rooms[meetingID]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[meetingID]; ok {
		return r
	}
	r := &sfuRoom{
		meetingID:   meetingID,
		publishers:  make(map[string]*publisherPeer),
		subscribers: make(map[string]*subscriberPeer),
		log:         s.log.With(zap.String("meeting_id", meetingID)),
	}
	s.rooms[meetingID] = r
	return r
}

func (s *SFU) newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	return api.NewPeerConnection(s.cfg)
}

func trickle(pc *webrtc.PeerConnection, target string, send SendFunc) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		send(EventICE, ICEPayload{Target: target, Candidate: b})
	})
}

// HandlePublisherOffer answers an attendee's publish offer. A previous publisher connection
// of the same attendee is replaced.
func (s *SFU) HandlePublisherOffer(meetingID, attendeeID string, offer webrtc.SessionDescription, send SendFunc) error {
	r := s.room(meetingID, true)
	r.closePublisher(attendeeID)

	pc, err := s.newPeerConnection()
	if err != nil {
		return err
	}
	pub := &publisherPeer{pc: pc}
	trickle(pc, TargetPublisher, send)
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		relay := &relayTrack{owner: attendeeID, remote: track}
		if r.addTrack(pub, relay) {
			go relay.forward()
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Debug("publisher connection state", zap.String("attendee_id", attendeeID), zap.String("state", state.String()))
	})

	r.mu.Lock()
	r.publishers[attendeeID] = pub
	r.mu.Unlock()

	answer, err := negotiateAnswer(pc, offer)
	if err != nil {
		r.closePublisher(attendeeID)
		return err
	}

	send(EventPublisherAnswer, SessionDescription{Type: answer.Type.String(), SDP: answer.SDP})
	return nil
}

func negotiateAnswer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// HandlePublisherICE adds a candidate to the attendee's publisher connection.
func (s *SFU) HandlePublisherICE(meetingID, attendeeID string, candidate webrtc.ICECandidateInit) error {
	r := s.room(meetingID, false)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	pub := r.publishers[attendeeID]
	r.mu.Unlock()
	if pub == nil {
		return nil
	}
	return pub.pc.AddICECandidate(candidate)
}

// HandleSubscribe creates a subscriber connection carrying every track published by the
// other attendees and sends it an offer.
func (s *SFU) HandleSubscribe(meetingID, attendeeID, clientID string, send SendFunc) error {
	r := s.room(meetingID, false)
	if r == nil {
		return ErrNoStream
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var tracks []*relayTrack
	for owner, pub := range r.publishers {
		if owner != attendeeID {
			tracks = append(tracks, pub.tracks...)
		}
	}
	if len(tracks) == 0 {
		return ErrNoStream
	}

	pc, err := s.newPeerConnection()
	if err != nil {
		return err
	}
	trickle(pc, TargetSubscriber, send)
	for _, relay := range tracks {
		if err := relay.attach(pc); err != nil {
			r.log.Warn("attach relay track", zap.String("track_id", relay.remote.ID()), zap.Error(err))
		}
	}
	if old, ok := r.subscribers[clientID]; ok {
		_ = old.pc.Close()
	}
	sub := &subscriberPeer{pc: pc, attendeeID: attendeeID, send: send}
	r.subscribers[clientID] = sub
	return r.offerLocked(sub)
}

// HandleSubscriberAnswer completes a subscriber negotiation.
func (s *SFU) HandleSubscriberAnswer(meetingID, clientID string, answer webrtc.SessionDescription) error {
	r := s.room(meetingID, false)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sub, ok := r.subscribers[clientID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.pc.SetRemoteDescription(answer)
}

// HandleSubscriberICE adds a candidate to the client's subscriber connection.
func (s *SFU) HandleSubscriberICE(meetingID, clientID string, candidate webrtc.ICECandidateInit) error {
	r := s.room(meetingID, false)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sub, ok := r.subscribers[clientID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.pc.AddICECandidate(candidate)
}

// RemoveAttendee closes the client's subscriber connection and the attendee's publisher
// connection. Empty rooms are dropped.
func (s *SFU) RemoveAttendee(meetingID, attendeeID, clientID string) {
	r := s.room(meetingID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	if sub, ok := r.subscribers[clientID]; ok {
		delete(r.subscribers, clientID)
		_ = sub.pc.Close()
	}
	r.mu.Unlock()
	r.closePublisher(attendeeID)

	r.mu.Lock()
	empty := len(r.publishers) == 0 && len(r.subscribers) == 0
	r.mu.Unlock()
	if empty {
		s.mu.Lock()
		if s.rooms[meetingID] == r {
			delete(s.rooms, meetingID)
		}
		s.mu.Unlock()
	}
}

// Publishers returns the number of attendees publishing in a meeting.
func (s *SFU) Publishers(meetingID string) int {
	r := s.room(meetingID, false)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.publishers)
}

func (r *sfuRoom) closePublisher(attendeeID string) {
	r.mu.Lock()
	pub, ok := r.publishers[attendeeID]
	delete(r.publishers, attendeeID)
	r.mu.Unlock()
	if ok {
		_ = pub.pc.Close()
	}
}

// addTrack records a new published track and renegotiates every other attendee's subscriber.
// It reports false when pub has since been replaced or closed.
func (r *sfuRoom) addTrack(pub *publisherPeer, relay *relayTrack) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishers[relay.owner] != pub {
		return false
	}
	pub.tracks = append(pub.tracks, relay)

	for _, sub := range r.subscribers {
		if sub.attendeeID == relay.owner {
			continue
		}
		if err := relay.attach(sub.pc); err != nil {
			r.log.Warn("attach relay track", zap.String("track_id", relay.remote.ID()), zap.Error(err))
			continue
		}
		if err := r.offerLocked(sub); err != nil {
			r.log.Warn("renegotiate subscriber", zap.String("attendee_id", sub.attendeeID), zap.Error(err))
		}
	}
	return true
}

func (r *sfuRoom) offerLocked(sub *subscriberPeer) error {
	offer, err := sub.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := sub.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	sub.send(EventSubscriberOffer, SessionDescription{Type: offer.Type.String(), SDP: offer.SDP})
	return nil
}

func (rt *relayTrack) attach(pc *webrtc.PeerConnection) error {
	local, err := webrtc.NewTrackLocalStaticRTP(rt.remote.Codec().RTPCodecCapability, rt.remote.ID(), rt.remote.StreamID())
	if err != nil {
		return err
	}
	if _, err := pc.AddTrack(local); err != nil {
		return err
	}
	rt.mu.Lock()
	rt.locals = append(rt.locals, local)
	rt.mu.Unlock()
	return nil
}

func (rt *relayTrack) forward() {
	for {
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := rt.remote.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}
		// Copy the subscriber list so a slow writer does not hold the lock.
		rt.mu.Lock()
		locals := make([]*webrtc.TrackLocalStaticRTP, len(rt.locals))
		copy(locals, rt.locals)
		rt.mu.Unlock()
		for _, local := range locals {
			_, _ = local.Write(buf[:n])
		}
		rtpBufferPool.Put(ptr)
	}
}

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ParseICEServers turns configured STUN/TURN URLs into ICE servers, falling back to a public STUN server.
func ParseICEServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}
