package models

import "time"

// VideoStats describes the inbound video stream. Nil fields were absent from the stats report.
type VideoStats struct {
	Resolution  string   `json:"resolution,omitempty"`
	FrameRate   *float64 `json:"frameRate,omitempty"`
	PacketsLost *int64   `json:"packetsLost,omitempty"`
	Jitter      *float64 `json:"jitter,omitempty"`
}

// NetworkStats describes the selected transport path.
type NetworkStats struct {
	RoundTripTimeMs *float64 `json:"roundTripTimeMs,omitempty"`
	BandwidthMbps   *float64 `json:"bandwidthMbps,omitempty"`
}

// SystemInfo ties a sample to its meeting.
type SystemInfo struct {
	Timestamp        time.Time `json:"timestamp"`
	MeetingID        string    `json:"meetingId"`
	ParticipantCount int       `json:"participantCount"`
}

// TelemetrySample is a point-in-time quality snapshot of an active call.
type TelemetrySample struct {
	Video   VideoStats   `json:"video"`
	Network NetworkStats `json:"network"`
	System  SystemInfo   `json:"system"`
}

// MetricsReport is the body posted to the metrics ingestion endpoint.
type MetricsReport struct {
	Metrics   TelemetrySample `json:"metrics"`
	Timestamp time.Time       `json:"timestamp"`
}
