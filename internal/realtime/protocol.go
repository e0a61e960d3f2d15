// Package realtime implements the JSON-over-WebSocket signaling used by call participants:
// the server side (hub, per-meeting SFU, Redis fan-out) and the client side dialer.
package realtime

import (
	"encoding/json"
	"time"
)

// Signaling events.
const (
	EventJoin             = "join"
	EventPublisherOffer   = "webrtc_publisher_offer"
	EventPublisherAnswer  = "webrtc_publisher_answer"
	EventSubscribe        = "webrtc_subscribe"
	EventSubscriberOffer  = "webrtc_subscriber_offer"
	EventSubscriberAnswer = "webrtc_subscriber_answer"
	EventICE              = "webrtc_ice"
	EventAttendeePresence = "attendee_presence"
	EventError            = "webrtc_error"
	EventChatMessage      = "chat_message"
)

// ICE targets.
const (
	TargetPublisher  = "publisher"
	TargetSubscriber = "subscriber"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SessionDescription carries an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEPayload carries one trickled candidate for the publisher or subscriber connection.
type ICEPayload struct {
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

// PresencePayload announces an attendee joining or leaving.
type PresencePayload struct {
	AttendeeID string `json:"attendee_id"`
	Present    bool   `json:"present"`
}

// ErrorPayload reports a signaling failure to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChatPayload is a chat message relayed to everyone in the meeting.
type ChatPayload struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func encode(event string, payload interface{}) (WSMessage, error) {
	switch v := payload.(type) {
	case nil:
		return WSMessage{Event: event}, nil
	case json.RawMessage:
		return WSMessage{Event: event, Data: v}, nil
	case []byte:
		return WSMessage{Event: event, Data: v}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Event: event, Data: data}, nil
}
