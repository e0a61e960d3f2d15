package meetings

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/internal/models"
)

type fakeChime struct {
	meetingIn   *chimesdkmeetings.CreateMeetingInput
	attendeeIn  *chimesdkmeetings.CreateAttendeeInput
	attendeeErr error
}

func (f *fakeChime) CreateMeeting(ctx context.Context, in *chimesdkmeetings.CreateMeetingInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateMeetingOutput, error) {
	f.meetingIn = in
	return &chimesdkmeetings.CreateMeetingOutput{Meeting: &types.Meeting{
		MeetingId:         aws.String("chime-1"),
		ExternalMeetingId: in.ExternalMeetingId,
		MediaRegion:       in.MediaRegion,
		MediaPlacement: &types.MediaPlacement{
			AudioHostUrl: aws.String("audio.example:3478"),
			SignalingUrl: aws.String("wss://signal.example/control"),
		},
	}}, nil
}

func (f *fakeChime) CreateAttendee(ctx context.Context, in *chimesdkmeetings.CreateAttendeeInput, _ ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateAttendeeOutput, error) {
	f.attendeeIn = in
	if f.attendeeErr != nil {
		return nil, f.attendeeErr
	}
	return &chimesdkmeetings.CreateAttendeeOutput{Attendee: &types.Attendee{
		AttendeeId:     aws.String("att-1"),
		ExternalUserId: in.ExternalUserId,
		JoinToken:      aws.String("join-token"),
	}}, nil
}

func TestChimeProviderMapsDescriptors(t *testing.T) {
	api := &fakeChime{}
	p := NewChimeProvider(api, zaptest.NewLogger(t))

	m, err := p.CreateMeeting(context.Background(), "algebra-101", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "algebra-101", aws.ToString(api.meetingIn.ExternalMeetingId))
	assert.NotEmpty(t, aws.ToString(api.meetingIn.ClientRequestToken))
	assert.Equal(t, "chime-1", m.MeetingID)
	assert.Equal(t, "wss://signal.example/control", m.MediaPlacement.SignalingURL)

	a, err := p.CreateAttendee(context.Background(), *m, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "chime-1", aws.ToString(api.attendeeIn.MeetingId))
	assert.True(t, strings.HasPrefix(a.ExternalUserID, "Alice#"))
	assert.Equal(t, "join-token", a.JoinToken)
}

func TestChimeProviderReportsGoneMeeting(t *testing.T) {
	p := NewChimeProvider(&fakeChime{attendeeErr: &types.NotFoundException{Message: aws.String("meeting ended")}}, zaptest.NewLogger(t))
	_, err := p.CreateAttendee(context.Background(), models.MeetingDescriptor{MeetingID: "chime-1"}, "Alice")
	assert.ErrorIs(t, err, ErrMeetingGone)

	p = NewChimeProvider(&fakeChime{attendeeErr: errors.New("throttled")}, zaptest.NewLogger(t))
	_, err = p.CreateAttendee(context.Background(), models.MeetingDescriptor{MeetingID: "chime-1"}, "Alice")
	assert.NotErrorIs(t, err, ErrMeetingGone)
}

func TestExternalUserIDFitsLimit(t *testing.T) {
	id := externalUserID(strings.Repeat("x", 200))
	assert.Len(t, id, 64)
	assert.NotEqual(t, externalUserID("Bob"), externalUserID("Bob"))
}

func TestChimeExternalMeetingIDForLongIDs(t *testing.T) {
	api := &fakeChime{}
	p := NewChimeProvider(api, zaptest.NewLogger(t))
	meetingID := "3f1c9a52-7b4e-4d2a-9c11-5e8f0a6b2d47_a9e0d6c4-1f3b-4e7a-8d25-b6c7e9f01a38_1700000000000"

	_, err := p.CreateMeeting(context.Background(), meetingID, "us-east-1")
	require.NoError(t, err)
	ext := aws.ToString(api.meetingIn.ExternalMeetingId)
	assert.Len(t, ext, 64)
	assert.Equal(t, chimeExternalMeetingID(meetingID), ext, "stable for one meeting id")
	assert.NotEqual(t, chimeExternalMeetingID(meetingID+"1"), ext)
	assert.Equal(t, "algebra-101", chimeExternalMeetingID("algebra-101"))
}

func TestExternalUserIDKeepsRunesWhole(t *testing.T) {
	id := externalUserID(strings.Repeat("é", 60))
	assert.True(t, utf8.ValidString(id))
	assert.LessOrEqual(t, len(id), 64)
	assert.True(t, strings.HasPrefix(id, strings.Repeat("é", 27)+"#"))
}
