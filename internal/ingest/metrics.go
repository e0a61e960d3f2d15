// Package ingest receives call quality reports and exposes them as Prometheus metrics.
package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/educonnect/videocall/internal/models"
)

// Metrics holds the per-meeting call quality gauges.
type Metrics struct {
	frameRate    *prometheus.GaugeVec
	packetsLost  *prometheus.GaugeVec
	jitter       *prometheus.GaugeVec
	rtt          *prometheus.GaugeVec
	bandwidth    *prometheus.GaugeVec
	participants *prometheus.GaugeVec
	lastReport   *prometheus.GaugeVec
	connections  *prometheus.GaugeVec
	reports      *prometheus.CounterVec
}

// NewMetrics registers the gauges with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	meeting := []string{"meeting_id"}
	return &Metrics{
		frameRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_video_frame_rate",
			Help: "Inbound video frames per second last reported for the meeting",
		}, meeting),
		packetsLost: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_video_packets_lost",
			Help: "Cumulative inbound video packets lost last reported for the meeting",
		}, meeting),
		jitter: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_video_jitter_seconds",
			Help: "Inbound video jitter last reported for the meeting",
		}, meeting),
		rtt: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_network_round_trip_time_ms",
			Help: "Round trip time of the selected candidate pair",
		}, meeting),
		bandwidth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_network_bandwidth_mbps",
			Help: "Available outgoing bitrate of the selected candidate pair",
		}, meeting),
		participants: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_participants",
			Help: "Participant count seen by the reporting client",
		}, meeting),
		lastReport: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_last_report_timestamp_seconds",
			Help: "Unix time of the last report for the meeting",
		}, meeting),
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "educall_signaling_connections",
			Help: "Signaling connections open on this instance",
		}, meeting),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educall_metrics_reports_total",
			Help: "Metrics reports received, partitioned by result",
		}, []string{"result"}),
	}
}

// Observe records one sample. Absent fields leave their gauges untouched.
func (m *Metrics) Observe(s models.TelemetrySample) {
	id := s.System.MeetingID
	if v := s.Video.FrameRate; v != nil {
		m.frameRate.WithLabelValues(id).Set(*v)
	}
	if v := s.Video.PacketsLost; v != nil {
		m.packetsLost.WithLabelValues(id).Set(float64(*v))
	}
	if v := s.Video.Jitter; v != nil {
		m.jitter.WithLabelValues(id).Set(*v)
	}
	if v := s.Network.RoundTripTimeMs; v != nil {
		m.rtt.WithLabelValues(id).Set(*v)
	}
	if v := s.Network.BandwidthMbps; v != nil {
		m.bandwidth.WithLabelValues(id).Set(*v)
	}
	m.participants.WithLabelValues(id).Set(float64(s.System.ParticipantCount))
	m.lastReport.WithLabelValues(id).Set(float64(s.System.Timestamp.Unix()))
}

// SetConnections tracks open signaling connections; the series is dropped at zero.
// Its signature matches realtime.PresenceChangeHandler.
func (m *Metrics) SetConnections(meetingID string, count int) {
	if count <= 0 {
		m.connections.DeleteLabelValues(meetingID)
		return
	}
	m.connections.WithLabelValues(meetingID).Set(float64(count))
}
