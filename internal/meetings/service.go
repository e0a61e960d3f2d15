package meetings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
)

// Meeting ids are registry keys; providers with tighter limits derive their own external id.
const (
	minMeetingIDLen = 2
	maxMeetingIDLen = 256
)

// Service resolves bootstrap requests into join info.
type Service struct {
	provider      Provider
	registry      Registry
	defaultRegion string
	logger        *zap.Logger

	mu    sync.Mutex
	locks map[string]*meetingLock
}

type meetingLock struct {
	mu   sync.Mutex
	refs int
}

// NewService creates a bootstrap service. A nil registry keeps meetings in memory.
func NewService(provider Provider, registry Registry, defaultRegion string, logger *zap.Logger) *Service {
	if registry == nil {
		registry = NewMemoryRegistry(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:      provider,
		registry:      registry,
		defaultRegion: defaultRegion,
		logger:        logger,
		locks:         make(map[string]*meetingLock),
	}
}

// Join returns the meeting for req.MeetingID, creating it on first use, and a new attendee in it.
// Concurrent joins of one meeting id observe a single meeting.
func (s *Service) Join(ctx context.Context, req models.BootstrapRequest) (*models.JoinInfo, error) {
	meetingID := strings.TrimSpace(req.MeetingID)
	userName := strings.TrimSpace(req.UserName)
	if meetingID == "" || userName == "" {
		return nil, fmt.Errorf("%w: meetingId and userName are required", ErrInvalidRequest)
	}
	if len(meetingID) < minMeetingIDLen || len(meetingID) > maxMeetingIDLen {
		return nil, fmt.Errorf("%w: meetingId must be %d-%d characters", ErrInvalidRequest, minMeetingIDLen, maxMeetingIDLen)
	}
	region := req.Region
	if region == "" {
		region = s.defaultRegion
	}

	meeting, err := s.meeting(ctx, meetingID, region)
	if err != nil {
		return nil, err
	}
	attendee, err := s.provider.CreateAttendee(ctx, *meeting, userName)
	if errors.Is(err, ErrMeetingGone) {
		s.logger.Info("meeting expired, recreating", zap.String("meeting_id", meetingID))
		if err := s.registry.Forget(ctx, meetingID); err != nil {
			return nil, err
		}
		if meeting, err = s.meeting(ctx, meetingID, region); err != nil {
			return nil, err
		}
		attendee, err = s.provider.CreateAttendee(ctx, *meeting, userName)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("attendee joined",
		zap.String("meeting_id", meetingID),
		zap.String("conference_id", meeting.MeetingID),
		zap.String("attendee_id", attendee.AttendeeID),
	)
	return &models.JoinInfo{Meeting: meeting, Attendee: attendee}, nil
}

func (s *Service) meeting(ctx context.Context, meetingID, region string) (*models.MeetingDescriptor, error) {
	if m, ok, err := s.registry.Get(ctx, meetingID); err != nil || ok {
		return m, err
	}

	unlock := s.lock(meetingID)
	defer unlock()

	if m, ok, err := s.registry.Get(ctx, meetingID); err != nil || ok {
		return m, err
	}
	created, err := s.provider.CreateMeeting(ctx, meetingID, region)
	if err != nil {
		return nil, err
	}
	stored, err := s.registry.PutIfAbsent(ctx, meetingID, *created)
	if err != nil {
		return nil, err
	}
	if stored.MeetingID != created.MeetingID {
		s.logger.Warn("meeting created concurrently elsewhere, using stored one",
			zap.String("meeting_id", meetingID),
			zap.String("discarded", created.MeetingID),
		)
	}
	return stored, nil
}

func (s *Service) lock(meetingID string) func() {
	s.mu.Lock()
	l, ok := s.locks[meetingID]
	if !ok {
		l = &meetingLock{}
		s.locks[meetingID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, meetingID)
		}
		s.mu.Unlock()
	}
}
