package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/internal/realtime"
)

const (
	subscribeRetryDelay = 2 * time.Second
	maxSubscribeRetries = 5
)

// subscribeState tracks pending subscribe retries. Guarded by Session.mu.
type subscribeState struct {
	requested bool
	attempts  int
	timer     *time.Timer
}

func (st *subscribeState) stop() {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (s *Session) onSignal(msg realtime.WSMessage) {
	switch msg.Event {
	case realtime.EventPublisherAnswer:
		var desc realtime.SessionDescription
		if err := json.Unmarshal(msg.Data, &desc); err != nil {
			s.deliverAnswer(negotiated{err: fmt.Errorf("decode answer: %w", err)})
			return
		}
		s.deliverAnswer(negotiated{desc: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}})
	case realtime.EventSubscriberOffer:
		var desc realtime.SessionDescription
		if err := json.Unmarshal(msg.Data, &desc); err != nil {
			s.logger.Warn("malformed subscriber offer", zap.Error(err))
			return
		}
		if err := s.answerSubscriber(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}); err != nil {
			s.logger.Warn("subscriber negotiation failed", zap.Error(err))
		}
	case realtime.EventICE:
		s.onRemoteICE(msg.Data)
	case realtime.EventAttendeePresence:
		var p realtime.PresencePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.AttendeeID == "" {
			return
		}
		if p.AttendeeID == s.attendee.AttendeeID {
			return
		}
		s.trackPresence(p)
	case realtime.EventChatMessage:
		var chat realtime.ChatPayload
		if err := json.Unmarshal(msg.Data, &chat); err != nil {
			return
		}
		if fn := s.factory.chatHandler(); fn != nil {
			fn(models.ChatMessage{ID: chat.ID, Sender: chat.Sender, Content: chat.Content, Timestamp: chat.Timestamp})
		}
	case realtime.EventError:
		var p realtime.ErrorPayload
		_ = json.Unmarshal(msg.Data, &p)
		if p.Message == realtime.ErrNoStream.Error() {
			s.scheduleSubscribe()
			return
		}
		s.logger.Warn("signaling error", zap.String("message", p.Message))
		s.deliverAnswer(negotiated{err: errors.New(p.Message)})
	}
}

// deliverAnswer hands the publisher answer (or a negotiation error) to Start, if it is still waiting.
func (s *Session) deliverAnswer(n negotiated) {
	s.mu.Lock()
	answers, waiting := s.answers, !s.remoteSet
	s.mu.Unlock()
	if answers == nil || !waiting {
		return
	}
	select {
	case answers <- n:
	default:
	}
}

func (s *Session) trackPresence(p realtime.PresencePayload) {
	s.mu.Lock()
	if s.remotes[p.AttendeeID] == p.Present {
		s.mu.Unlock()
		return
	}
	if p.Present {
		s.remotes[p.AttendeeID] = true
	} else {
		delete(s.remotes, p.AttendeeID)
	}
	s.mu.Unlock()

	for _, obs := range s.observerList() {
		obs.PresenceChanged(p.AttendeeID, p.Present)
	}
	if p.Present {
		s.requestSubscribe(true)
	}
}

// requestSubscribe asks the relay for remote media unless a subscriber connection already exists;
// the relay renegotiates that connection when new tracks arrive.
func (s *Session) requestSubscribe(reset bool) {
	s.mu.Lock()
	if s.stopping || s.sub != nil {
		s.mu.Unlock()
		return
	}
	if reset {
		s.subscriber.attempts = 0
		s.subscriber.stop()
	}
	s.subscriber.requested = true
	sig := s.sig
	s.mu.Unlock()
	if sig == nil {
		return
	}
	if err := sig.Send(realtime.EventSubscribe, nil); err != nil {
		s.logger.Debug("send subscribe", zap.Error(err))
	}
}

func (s *Session) scheduleSubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || s.sub != nil || !s.subscriber.requested || s.subscriber.timer != nil {
		return
	}
	if s.subscriber.attempts >= maxSubscribeRetries {
		s.logger.Debug("no remote media to subscribe to", zap.Int("attempts", s.subscriber.attempts))
		return
	}
	s.subscriber.attempts++
	s.subscriber.timer = time.AfterFunc(subscribeRetryDelay, func() {
		s.mu.Lock()
		s.subscriber.timer = nil
		s.mu.Unlock()
		s.requestSubscribe(false)
	})
}

func (s *Session) answerSubscriber(offer webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	pc := s.sub
	s.mu.Unlock()

	if pc == nil {
		created, err := s.factory.newPeerConnection()
		if err != nil {
			return fmt.Errorf("create subscriber connection: %w", err)
		}
		created.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c != nil {
				s.sendICE(realtime.TargetSubscriber, c)
			}
		})
		created.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			s.logger.Info("remote track", zap.String("kind", remote.Kind().String()), zap.String("track_id", remote.ID()))
			go drain(remote)
		})
		created.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			s.logger.Debug("subscriber connection state", zap.String("state", state.String()))
		})

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			return created.Close()
		}
		s.sub = created
		s.subscriber.stop()
		pending := s.pendingSubICE
		s.pendingSubICE = nil
		s.mu.Unlock()
		pc = created
		defer func() {
			for _, cand := range pending {
				_ = pc.AddICECandidate(cand)
			}
		}()
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set subscriber offer: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create subscriber answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set subscriber answer: %w", err)
	}
	sig := s.signaler()
	if sig == nil {
		return nil
	}
	return sig.Send(realtime.EventSubscriberAnswer, realtime.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP})
}

// drain reads a remote track so its receive buffers and RTCP reports keep flowing.
func drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

func (s *Session) sendICE(target string, c *webrtc.ICECandidate) {
	b, err := json.Marshal(c.ToJSON())
	if err != nil {
		return
	}
	sig := s.signaler()
	if sig == nil {
		return
	}
	if err := sig.Send(realtime.EventICE, realtime.ICEPayload{Target: target, Candidate: b}); err != nil {
		s.logger.Debug("send ice candidate", zap.String("target", target), zap.Error(err))
	}
}

// onRemoteICE adds a relay candidate, holding it until the matching connection has a remote description.
func (s *Session) onRemoteICE(data json.RawMessage) {
	var payload realtime.ICEPayload
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Candidate) == 0 {
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(payload.Candidate, &cand); err != nil {
		return
	}

	s.mu.Lock()
	var pc *webrtc.PeerConnection
	switch payload.Target {
	case realtime.TargetSubscriber:
		if s.sub == nil {
			s.pendingSubICE = append(s.pendingSubICE, cand)
		}
		pc = s.sub
	default:
		if !s.remoteSet {
			s.pendingICE = append(s.pendingICE, cand)
		} else {
			pc = s.pub
		}
	}
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		s.logger.Debug("add ice candidate", zap.String("target", payload.Target), zap.Error(err))
	}
}
