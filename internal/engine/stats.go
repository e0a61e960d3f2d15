package engine

import (
	"sort"

	"github.com/pion/webrtc/v4"

	"github.com/educonnect/videocall/internal/media"
)

// convertStats keeps the inbound RTP and candidate pair entries, ordered by id.
func convertStats(report webrtc.StatsReport) media.StatsReport {
	out := make(media.StatsReport, 0, len(report))
	for _, raw := range report {
		switch st := raw.(type) {
		case webrtc.InboundRTPStreamStats:
			out = append(out, inboundStat(st))
		case *webrtc.InboundRTPStreamStats:
			out = append(out, inboundStat(*st))
		case webrtc.ICECandidatePairStats:
			out = append(out, pairStat(st))
		case *webrtc.ICECandidatePairStats:
			out = append(out, pairStat(*st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inboundStat(st webrtc.InboundRTPStreamStats) media.Stat {
	values := map[string]float64{
		"packetsLost": float64(st.PacketsLost),
		"jitter":      st.Jitter,
	}
	if st.FrameWidth > 0 && st.FrameHeight > 0 {
		values["frameWidth"] = float64(st.FrameWidth)
		values["frameHeight"] = float64(st.FrameHeight)
	}
	if st.FramesPerSecond > 0 {
		values["framesPerSecond"] = st.FramesPerSecond
	}
	return media.Stat{
		ID:     st.ID,
		Type:   media.StatTypeInboundRTP,
		Kind:   st.Kind,
		Values: values,
	}
}

func pairStat(st webrtc.ICECandidatePairStats) media.Stat {
	values := map[string]float64{}
	if st.CurrentRoundTripTime > 0 {
		values["currentRoundTripTime"] = st.CurrentRoundTripTime
	}
	if st.AvailableOutgoingBitrate > 0 {
		values["availableOutgoingBitrate"] = st.AvailableOutgoingBitrate
	}
	return media.Stat{
		ID:        st.ID,
		Type:      media.StatTypeCandidatePair,
		Nominated: st.Nominated,
		State:     string(st.State),
		Values:    values,
	}
}
