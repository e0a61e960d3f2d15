// Package media wraps a real-time conferencing engine behind the lifecycle a call needs:
// permission probe, session start, local device and tile setup, content share, presence and teardown.
package media

import (
	"context"
	"image"

	"github.com/educonnect/videocall/internal/models"
)

// Device is an input device reported by the engine.
type Device struct {
	ID    string
	Label string
}

// RenderTarget receives frames of the local video tile.
type RenderTarget interface {
	RenderFrame(img image.Image)
}

// DisplayStream is a captured display (screen or window). The engine that produced it knows its concrete type.
type DisplayStream interface {
	Close() error
}

// Observer receives engine events between Start and Stop.
type Observer interface {
	PresenceChanged(attendeeID string, present bool)
	SessionFailed(err error)
}

// Stat is one entry of a connection statistics report.
// Type follows the WebRTC stats names ("inbound-rtp", "candidate-pair"); Values holds numeric members
// by their WebRTC names (frameWidth, jitter, currentRoundTripTime, ...). Absent members are absent keys.
type Stat struct {
	ID        string
	Type      string
	Kind      string
	Nominated bool
	State     string
	Values    map[string]float64
}

// StatsReport is a snapshot of all stats entries.
type StatsReport []Stat

// Stat types used by telemetry extraction.
const (
	StatTypeInboundRTP    = "inbound-rtp"
	StatTypeCandidatePair = "candidate-pair"
)

// Engine is one conferencing session created from bootstrap descriptors.
type Engine interface {
	Subscribe(obs Observer) (unsubscribe func())
	Start(ctx context.Context) error
	Stop() error

	VideoInputDevices(ctx context.Context) ([]Device, error)
	AudioInputDevices(ctx context.Context) ([]Device, error)
	StartVideoInput(ctx context.Context, deviceID string) error
	StopVideoInput() error
	StartAudioInput(ctx context.Context, deviceID string) error
	StopAudioInput() error

	// StartLocalVideoTile returns the id of the local tile; ids are positive.
	StartLocalVideoTile() (int, error)
	BindVideoElement(tileID int, target RenderTarget) error
	SetLocalVideoEnabled(enabled bool) error
	SetAudioMuted(muted bool) error

	StartContentShare(ctx context.Context, stream DisplayStream) error
	StopContentShare() error

	Stats(ctx context.Context) (StatsReport, error)
	// CaptureFrame returns the current local video frame as JPEG.
	CaptureFrame(ctx context.Context) ([]byte, error)
}

// EngineFactory constructs an engine for one meeting and attendee.
type EngineFactory interface {
	NewEngine(meeting models.MeetingDescriptor, attendee models.AttendeeDescriptor) (Engine, error)
}

// MediaAccess grants access to local capture devices.
type MediaAccess interface {
	// ProbeUserMedia checks that camera and microphone can be opened and releases them again.
	ProbeUserMedia(ctx context.Context) error
	RequestDisplayMedia(ctx context.Context) (DisplayStream, error)
}
