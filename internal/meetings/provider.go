// Package meetings serves the meeting bootstrap endpoint: it resolves a meeting id to a conferencing
// meeting (creating it on first use) and issues a fresh attendee for every join.
package meetings

import (
	"context"
	"errors"

	"github.com/educonnect/videocall/internal/models"
)

var (
	// ErrMeetingGone is returned by a Provider when a previously created meeting no longer exists.
	ErrMeetingGone = errors.New("meeting no longer exists")
	// ErrInvalidRequest marks bootstrap input the service refuses.
	ErrInvalidRequest = errors.New("invalid bootstrap request")
)

// Provider creates meetings and attendees on a conferencing backend.
type Provider interface {
	CreateMeeting(ctx context.Context, externalID, region string) (*models.MeetingDescriptor, error)
	CreateAttendee(ctx context.Context, meeting models.MeetingDescriptor, userName string) (*models.AttendeeDescriptor, error)
}
