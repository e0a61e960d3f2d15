package models

// MediaPlacement holds the media endpoints the conferencing backend assigned to a meeting.
type MediaPlacement struct {
	AudioHostURL      string `json:"AudioHostUrl"`
	AudioFallbackURL  string `json:"AudioFallbackUrl,omitempty"`
	SignalingURL      string `json:"SignalingUrl"`
	TurnControlURL    string `json:"TurnControlUrl,omitempty"`
	ScreenSharingURL  string `json:"ScreenSharingUrl,omitempty"`
	EventIngestionURL string `json:"EventIngestionUrl,omitempty"`
}

// MeetingDescriptor identifies a meeting on the conferencing backend.
// It is immutable once returned by the bootstrap endpoint.
type MeetingDescriptor struct {
	MeetingID         string          `json:"MeetingId"`
	ExternalMeetingID string          `json:"ExternalMeetingId,omitempty"`
	MediaRegion       string          `json:"MediaRegion,omitempty"`
	MediaPlacement    *MediaPlacement `json:"MediaPlacement"`
}

// AttendeeDescriptor is the join credential of one participant in one meeting.
type AttendeeDescriptor struct {
	AttendeeID     string `json:"AttendeeId"`
	ExternalUserID string `json:"ExternalUserId"`
	JoinToken      string `json:"JoinToken"`
}

// JoinInfo is the bootstrap response body: {Meeting, Attendee}.
type JoinInfo struct {
	Meeting  *MeetingDescriptor  `json:"Meeting"`
	Attendee *AttendeeDescriptor `json:"Attendee"`
}

// BootstrapRequest is the bootstrap request body.
type BootstrapRequest struct {
	MeetingID string `json:"meetingId"`
	UserName  string `json:"userName"`
	Region    string `json:"region,omitempty"`
}
