package telemetry

import (
	"fmt"
	"time"

	"github.com/educonnect/videocall/internal/media"
	"github.com/educonnect/videocall/internal/models"
)

// Extract builds a sample from a stats report. Entries or members missing from the report
// leave the corresponding fields nil.
func Extract(report media.StatsReport, meetingID string, participants int, now time.Time) models.TelemetrySample {
	sample := models.TelemetrySample{
		System: models.SystemInfo{
			Timestamp:        now,
			MeetingID:        meetingID,
			ParticipantCount: participants,
		},
	}

	if video, ok := inboundVideo(report); ok {
		w, hasW := video.Values["frameWidth"]
		h, hasH := video.Values["frameHeight"]
		if hasW && hasH {
			sample.Video.Resolution = fmt.Sprintf("%dx%d", int(w), int(h))
		}
		if v, ok := video.Values["framesPerSecond"]; ok {
			sample.Video.FrameRate = ptr(v)
		}
		if v, ok := video.Values["packetsLost"]; ok {
			sample.Video.PacketsLost = ptr(int64(v))
		}
		if v, ok := video.Values["jitter"]; ok {
			sample.Video.Jitter = ptr(v)
		}
	}

	if pair, ok := activePair(report); ok {
		// currentRoundTripTime is reported in seconds
		if v, ok := pair.Values["currentRoundTripTime"]; ok {
			sample.Network.RoundTripTimeMs = ptr(v * 1000)
		}
		if v, ok := pair.Values["availableOutgoingBitrate"]; ok {
			sample.Network.BandwidthMbps = ptr(v / 1e6)
		}
	}
	return sample
}

func inboundVideo(report media.StatsReport) (media.Stat, bool) {
	for _, s := range report {
		if s.Type == media.StatTypeInboundRTP && s.Kind == "video" {
			return s, true
		}
	}
	return media.Stat{}, false
}

// activePair prefers the nominated pair, then any succeeded pair.
func activePair(report media.StatsReport) (media.Stat, bool) {
	var fallback *media.Stat
	for i := range report {
		s := report[i]
		if s.Type != media.StatTypeCandidatePair {
			continue
		}
		if s.Nominated {
			return s, true
		}
		if fallback == nil && s.State == "succeeded" {
			fallback = &report[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return media.Stat{}, false
}

func ptr[T any](v T) *T { return &v }
