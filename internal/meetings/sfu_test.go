package meetings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestJoinTokenRoundTrip(t *testing.T) {
	p, err := NewSFUProvider(SFUConfig{SignalingURL: "ws://localhost:8080/ws", APIKey: "key", APISecret: "a-secret-long-enough-for-hs256"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	m, err := p.CreateMeeting(context.Background(), "algebra-101", "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", m.MediaPlacement.SignalingURL)
	assert.Equal(t, "algebra-101", m.ExternalMeetingID)

	a, err := p.CreateAttendee(context.Background(), *m, "Alice")
	require.NoError(t, err)

	grant, err := NewTokenVerifier("key", "a-secret-long-enough-for-hs256").Verify(a.JoinToken)
	require.NoError(t, err)
	assert.Equal(t, m.MeetingID, grant.MeetingID)
	assert.Equal(t, a.AttendeeID, grant.AttendeeID)
	assert.Equal(t, "Alice", grant.Name)

	_, err = NewTokenVerifier("key", "another-secret-entirely-different").Verify(a.JoinToken)
	assert.Error(t, err)
	_, err = NewTokenVerifier("other-key", "a-secret-long-enough-for-hs256").Verify(a.JoinToken)
	assert.Error(t, err)
	_, err = NewTokenVerifier("key", "a-secret-long-enough-for-hs256").Verify("not-a-jwt")
	assert.Error(t, err)
}

func TestSFUProviderRequiresCredentials(t *testing.T) {
	_, err := NewSFUProvider(SFUConfig{SignalingURL: "ws://x/ws"}, nil)
	assert.Error(t, err)
	_, err = NewSFUProvider(SFUConfig{APIKey: "k", APISecret: "s"}, nil)
	assert.Error(t, err)
}
