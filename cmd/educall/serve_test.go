package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/educonnect/videocall/config"
	"github.com/educonnect/videocall/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0", CORSAllowedOrigins: "*", ShutdownTimeout: time.Second},
		Meetings: config.MeetingsConfig{
			Provider:      "sfu",
			DefaultRegion: "us-east-1",
			SignalingURL:  "ws://localhost:8080/ws",
			RegistryTTL:   time.Hour,
		},
		LiveKit: config.LiveKitConfig{APIKey: "devkey", APISecret: "a-secret-long-enough-for-hmac-signing", TokenTTL: time.Hour},
		Log:     config.LogConfig{Level: "info"},
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServicesWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := buildServices(context.Background(), testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer svc.close()
	assert.Nil(t, svc.processor)

	rec := httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var first, second models.JoinInfo
	rec = postJSON(t, svc.router, "/meeting", models.BootstrapRequest{MeetingID: "alice_bob_1", UserName: "Alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	rec = postJSON(t, svc.router, "/meetings/join", models.BootstrapRequest{MeetingID: "alice_bob_1", UserName: "Bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.Meeting.MeetingID, second.Meeting.MeetingID)
	assert.NotEqual(t, first.Attendee.AttendeeID, second.Attendee.AttendeeID)
	assert.Equal(t, "ws://localhost:8080/ws", first.Meeting.MediaPlacement.SignalingURL)

	fps := 24.0
	rec = postJSON(t, svc.router, "/api/metrics", models.MetricsReport{
		Metrics: models.TelemetrySample{
			Video:  models.VideoStats{FrameRate: &fps},
			System: models.SystemInfo{MeetingID: first.Meeting.MeetingID, ParticipantCount: 2},
		},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	svc.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "educall_video_frame_rate"))
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestUnknownProvider(t *testing.T) {
	cfg := testConfig()
	cfg.Meetings.Provider = "zoom"
	_, err := buildServices(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "zoom")
}
