package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/internal/models"
)

func joinResponse(meetingID, attendeeID string) models.JoinInfo {
	return models.JoinInfo{
		Meeting: &models.MeetingDescriptor{
			MeetingID:   meetingID,
			MediaRegion: "us-east-1",
			MediaPlacement: &models.MediaPlacement{
				AudioHostURL: "audio.example.com:3478",
				SignalingURL: "wss://signal.example.com/control",
			},
		},
		Attendee: &models.AttendeeDescriptor{AttendeeID: attendeeID, ExternalUserID: "Alice", JoinToken: "tok"},
	}
}

func TestBootstrapSuccess(t *testing.T) {
	var got models.BootstrapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(joinResponse(got.MeetingID, "att-1"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zaptest.NewLogger(t), WithRegion("eu-west-1"))
	info, err := c.Bootstrap(context.Background(), "u1_u2_1700000000000", "Alice")
	require.NoError(t, err)

	assert.Equal(t, models.BootstrapRequest{MeetingID: "u1_u2_1700000000000", UserName: "Alice", Region: "eu-west-1"}, got)
	assert.Equal(t, "u1_u2_1700000000000", info.Meeting.MeetingID)
	assert.Equal(t, "att-1", info.Attendee.AttendeeID)
	assert.Equal(t, "wss://signal.example.com/control", info.Meeting.MediaPlacement.SignalingURL)
}

func TestBootstrapFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "server error with message", status: http.StatusInternalServerError, body: `{"error":"chime unavailable"}`, wantStatus: 500, wantMsg: "chime unavailable"},
		{name: "bad request with message field", status: http.StatusBadRequest, body: `{"message":"meetingId required"}`, wantStatus: 400, wantMsg: "meetingId required"},
		{name: "non json error", status: http.StatusBadGateway, body: `upstream`, wantStatus: 502},
		{name: "missing meeting", status: http.StatusOK, body: `{"Attendee":{"AttendeeId":"a"}}`},
		{name: "missing attendee", status: http.StatusOK, body: `{"Meeting":{"MeetingId":"m","MediaPlacement":{}}}`},
		{name: "missing media placement", status: http.StatusOK, body: `{"Meeting":{"MeetingId":"m"},"Attendee":{"AttendeeId":"a"}}`},
		{name: "undecodable body", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).Bootstrap(context.Background(), "m", "Alice")
			var bErr *Error
			require.ErrorAs(t, err, &bErr)
			assert.Equal(t, tt.wantStatus, bErr.StatusCode)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, bErr.Message)
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestBootstrapRejectsEmptyArguments(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Bootstrap(context.Background(), "", "Alice")
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	_, err = c.Bootstrap(context.Background(), "m", "")
	require.ErrorAs(t, err, &bErr)
	assert.Zero(t, calls)
}

func TestBootstrapNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).Bootstrap(context.Background(), "m", "Alice")
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Zero(t, bErr.StatusCode)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestBootstrapTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, nil, WithTimeout(50*time.Millisecond)).Bootstrap(context.Background(), "m", "Alice")
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
