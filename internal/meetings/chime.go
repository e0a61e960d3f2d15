package meetings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings"
	"github.com/aws/aws-sdk-go-v2/service/chimesdkmeetings/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
)

// ChimeAPI is the subset of the Chime SDK Meetings client used here.
type ChimeAPI interface {
	CreateMeeting(ctx context.Context, in *chimesdkmeetings.CreateMeetingInput, opts ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateMeetingOutput, error)
	CreateAttendee(ctx context.Context, in *chimesdkmeetings.CreateAttendeeInput, opts ...func(*chimesdkmeetings.Options)) (*chimesdkmeetings.CreateAttendeeOutput, error)
}

// ChimeProvider creates meetings on Amazon Chime SDK Meetings.
type ChimeProvider struct {
	api    ChimeAPI
	logger *zap.Logger
}

// NewChimeProvider wraps a Chime SDK Meetings client.
func NewChimeProvider(api ChimeAPI, logger *zap.Logger) *ChimeProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChimeProvider{api: api, logger: logger}
}

// NewChimeProviderFromConfig builds the Chime client from an AWS config.
func NewChimeProviderFromConfig(cfg aws.Config, logger *zap.Logger) *ChimeProvider {
	return NewChimeProvider(chimesdkmeetings.NewFromConfig(cfg), logger)
}

func (p *ChimeProvider) CreateMeeting(ctx context.Context, externalID, region string) (*models.MeetingDescriptor, error) {
	out, err := p.api.CreateMeeting(ctx, &chimesdkmeetings.CreateMeetingInput{
		ClientRequestToken: aws.String(uuid.NewString()),
		ExternalMeetingId:  aws.String(chimeExternalMeetingID(externalID)),
		MediaRegion:        aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("chime create meeting: %w", err)
	}
	if out.Meeting == nil {
		return nil, errors.New("chime create meeting: empty response")
	}
	m := out.Meeting
	desc := &models.MeetingDescriptor{
		MeetingID:         aws.ToString(m.MeetingId),
		ExternalMeetingID: aws.ToString(m.ExternalMeetingId),
		MediaRegion:       aws.ToString(m.MediaRegion),
	}
	if mp := m.MediaPlacement; mp != nil {
		desc.MediaPlacement = &models.MediaPlacement{
			AudioHostURL:      aws.ToString(mp.AudioHostUrl),
			AudioFallbackURL:  aws.ToString(mp.AudioFallbackUrl),
			SignalingURL:      aws.ToString(mp.SignalingUrl),
			TurnControlURL:    aws.ToString(mp.TurnControlUrl),
			ScreenSharingURL:  aws.ToString(mp.ScreenSharingUrl),
			EventIngestionURL: aws.ToString(mp.EventIngestionUrl),
		}
	}
	p.logger.Info("chime meeting created", zap.String("meeting_id", desc.MeetingID), zap.String("external_id", externalID))
	return desc, nil
}

func (p *ChimeProvider) CreateAttendee(ctx context.Context, meeting models.MeetingDescriptor, userName string) (*models.AttendeeDescriptor, error) {
	out, err := p.api.CreateAttendee(ctx, &chimesdkmeetings.CreateAttendeeInput{
		MeetingId:      aws.String(meeting.MeetingID),
		ExternalUserId: aws.String(externalUserID(userName)),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrMeetingGone, meeting.MeetingID)
		}
		return nil, fmt.Errorf("chime create attendee: %w", err)
	}
	if out.Attendee == nil {
		return nil, errors.New("chime create attendee: empty response")
	}
	return &models.AttendeeDescriptor{
		AttendeeID:     aws.ToString(out.Attendee.AttendeeId),
		ExternalUserID: aws.ToString(out.Attendee.ExternalUserId),
		JoinToken:      aws.ToString(out.Attendee.JoinToken),
	}, nil
}

// chimeIDLimit is Chime's maximum length for external meeting and user ids.
const chimeIDLimit = 64

// chimeExternalMeetingID passes short ids through and replaces longer ones with
// their hex SHA-256, which is exactly chimeIDLimit characters.
func chimeExternalMeetingID(meetingID string) string {
	if len(meetingID) <= chimeIDLimit {
		return meetingID
	}
	sum := sha256.Sum256([]byte(meetingID))
	return hex.EncodeToString(sum[:])
}

// externalUserID makes the user name unique per join and fits Chime's 2-64 character limit.
// Long names are cut on a rune boundary.
func externalUserID(userName string) string {
	suffix := uuid.NewString()[:8]
	name := strings.TrimSpace(userName)
	if limit := chimeIDLimit - len(suffix) - 1; len(name) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return name + "#" + suffix
}
