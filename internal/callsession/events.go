package callsession

import "github.com/educonnect/videocall/internal/models"

// EventType names a UI-facing change.
type EventType string

const (
	EventStatus        EventType = "status"
	EventMedia         EventType = "media"
	EventElapsed       EventType = "elapsed"
	EventParticipants  EventType = "participants"
	EventChat          EventType = "chat"
	EventTelemetry     EventType = "telemetry"
	EventAttention     EventType = "attention"
	EventAttentiveness EventType = "attentiveness"
	EventNotice        EventType = "notice"
)

// State is a snapshot of a call session.
type State struct {
	Status           models.CallStatus
	Kind             models.CallKind
	MeetingID        string
	PeerID           string
	IsMuted          bool
	IsVideoOff       bool
	IsScreenSharing  bool
	ParticipantCount int
	ElapsedSeconds   int
	Attentiveness    bool
	ChatLog          []models.ChatMessage
}

// Event is delivered synchronously to the shell. State is taken right after the change.
type Event struct {
	Type    EventType
	State   State
	Message *models.ChatMessage
	Sample  *models.TelemetrySample
	Reading *models.AttentionReading
	Notice  string
	Err     error
}
