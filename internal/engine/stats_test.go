package engine

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/telemetry"
)

func TestConvertStats(t *testing.T) {
	report := webrtc.StatsReport{
		"RTCInboundRTPVideoStream_1": webrtc.InboundRTPStreamStats{
			ID:              "RTCInboundRTPVideoStream_1",
			Kind:            "video",
			PacketsLost:     3,
			Jitter:          0.012,
			FrameWidth:      1280,
			FrameHeight:     720,
			FramesPerSecond: 29.5,
		},
		"RTCIceCandidatePair_b": webrtc.ICECandidatePairStats{
			ID:                       "RTCIceCandidatePair_b",
			Nominated:                true,
			State:                    webrtc.StatsICECandidatePairStateSucceeded,
			CurrentRoundTripTime:     0.045,
			AvailableOutgoingBitrate: 2_500_000,
		},
		"RTCCodec_1": webrtc.CodecStats{ID: "RTCCodec_1"},
	}

	got := convertStats(report)
	require.Len(t, got, 2)
	assert.Equal(t, "RTCIceCandidatePair_b", got[0].ID)
	assert.Equal(t, media.StatTypeCandidatePair, got[0].Type)
	assert.True(t, got[0].Nominated)
	assert.Equal(t, "succeeded", got[0].State)
	assert.Equal(t, media.StatTypeInboundRTP, got[1].Type)
	assert.Equal(t, 1280.0, got[1].Values["frameWidth"])

	sample := telemetry.Extract(got, "m1", 2, time.Unix(0, 0))
	assert.Equal(t, "1280x720", sample.Video.Resolution)
	require.NotNil(t, sample.Video.PacketsLost)
	assert.Equal(t, int64(3), *sample.Video.PacketsLost)
	require.NotNil(t, sample.Network.RoundTripTimeMs)
	assert.InDelta(t, 45.0, *sample.Network.RoundTripTimeMs, 1e-9)
	require.NotNil(t, sample.Network.BandwidthMbps)
	assert.InDelta(t, 2.5, *sample.Network.BandwidthMbps, 1e-9)
}

func TestConvertStatsOmitsUnknownMembers(t *testing.T) {
	got := convertStats(webrtc.StatsReport{
		"in": webrtc.InboundRTPStreamStats{ID: "in", Kind: "video"},
		"cp": webrtc.ICECandidatePairStats{ID: "cp", State: webrtc.StatsICECandidatePairStateInProgress},
	})
	require.Len(t, got, 2)
	assert.NotContains(t, got[1].Values, "frameWidth")
	assert.NotContains(t, got[1].Values, "framesPerSecond")
	assert.Empty(t, got[0].Values)

	sample := telemetry.Extract(got, "m1", 1, time.Unix(0, 0))
	assert.Empty(t, sample.Video.Resolution)
	assert.Nil(t, sample.Video.FrameRate)
	assert.Nil(t, sample.Network.RoundTripTimeMs)
}
