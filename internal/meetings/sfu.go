package meetings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/internal/realtime"
)

// SFUConfig configures meetings on the built-in relay.
type SFUConfig struct {
	SignalingURL string
	APIKey       string
	APISecret    string
	TokenTTL     time.Duration
}

// SFUProvider creates meetings on the built-in relay served under /ws.
// Join tokens are LiveKit access tokens whose video grant names the meeting.
type SFUProvider struct {
	cfg    SFUConfig
	logger *zap.Logger
}

// NewSFUProvider validates cfg and creates the provider.
func NewSFUProvider(cfg SFUConfig, logger *zap.Logger) (*SFUProvider, error) {
	if cfg.SignalingURL == "" {
		return nil, errors.New("sfu provider: signaling url required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("sfu provider: api key and secret required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SFUProvider{cfg: cfg, logger: logger}, nil
}

func (p *SFUProvider) CreateMeeting(ctx context.Context, externalID, region string) (*models.MeetingDescriptor, error) {
	return &models.MeetingDescriptor{
		MeetingID:         uuid.NewString(),
		ExternalMeetingID: externalID,
		MediaRegion:       region,
		MediaPlacement: &models.MediaPlacement{
			AudioHostURL: p.cfg.SignalingURL,
			SignalingURL: p.cfg.SignalingURL,
		},
	}, nil
}

func (p *SFUProvider) CreateAttendee(ctx context.Context, meeting models.MeetingDescriptor, userName string) (*models.AttendeeDescriptor, error) {
	attendeeID := uuid.NewString()
	at := auth.NewAccessToken(p.cfg.APIKey, p.cfg.APISecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     meeting.MeetingID,
	}).
		SetIdentity(attendeeID).
		SetName(userName).
		SetValidFor(p.cfg.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		p.logger.Error("join token generation failed", zap.Error(err), zap.String("meeting_id", meeting.MeetingID))
		return nil, fmt.Errorf("sign join token: %w", err)
	}
	return &models.AttendeeDescriptor{
		AttendeeID:     attendeeID,
		ExternalUserID: userName,
		JoinToken:      token,
	}, nil
}

// TokenVerifier checks join tokens minted by SFUProvider. It implements realtime.TokenVerifier.
type TokenVerifier struct {
	apiKey    string
	apiSecret string
}

// NewTokenVerifier checks tokens signed with apiKey and apiSecret.
func NewTokenVerifier(apiKey, apiSecret string) *TokenVerifier {
	return &TokenVerifier{apiKey: apiKey, apiSecret: apiSecret}
}

func (v *TokenVerifier) Verify(token string) (realtime.Grant, error) {
	parsed, err := auth.ParseAPIToken(token)
	if err != nil {
		return realtime.Grant{}, fmt.Errorf("parse join token: %w", err)
	}
	if parsed.APIKey() != v.apiKey {
		return realtime.Grant{}, errors.New("join token issued for another api key")
	}
	claims, err := parsed.Verify(v.apiSecret)
	if err != nil {
		return realtime.Grant{}, fmt.Errorf("verify join token: %w", err)
	}
	if claims.Video == nil || !claims.Video.RoomJoin || claims.Video.Room == "" {
		return realtime.Grant{}, errors.New("join token has no room grant")
	}
	return realtime.Grant{
		MeetingID:  claims.Video.Room,
		AttendeeID: claims.Identity,
		Name:       claims.Name,
	}, nil
}
