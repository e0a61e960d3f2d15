package models

import "time"

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallStatusIdle       CallStatus = "idle"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusActive     CallStatus = "active"
	CallStatusFailed     CallStatus = "failed"
	CallStatusEnded      CallStatus = "ended"
)

// CallKind selects whether local video is published.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// Valid reports whether k is a known call kind.
func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// ChatMessage is one entry of a call's side-channel chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
