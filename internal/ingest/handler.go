package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/pkg/queue"
	"github.com/educonnect/videocall/pkg/response"
)

// Enqueuer is satisfied by *queue.Queue.
type Enqueuer interface {
	EnqueueTelemetryArchive(ctx context.Context, payload queue.TelemetryArchivePayload) error
}

// Handler serves POST /api/metrics.
type Handler struct {
	metrics *Metrics
	archive Enqueuer
	now     func() time.Time
	logger  *zap.Logger
}

// NewHandler creates an ingestion handler. archive may be nil to skip archiving.
func NewHandler(metrics *Metrics, archive Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{metrics: metrics, archive: archive, now: time.Now, logger: logger}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/api/metrics", h.Ingest)
}

// Ingest accepts a {metrics, timestamp} report and answers 202.
func (h *Handler) Ingest(c *gin.Context) {
	var report models.MetricsReport
	if err := c.ShouldBindJSON(&report); err != nil {
		h.metrics.reports.WithLabelValues("invalid").Inc()
		response.BadRequest(c, "invalid metrics report")
		return
	}
	if report.Metrics.System.MeetingID == "" {
		h.metrics.reports.WithLabelValues("invalid").Inc()
		response.BadRequest(c, "metrics.system.meetingId is required")
		return
	}
	received := h.now()
	if report.Timestamp.IsZero() {
		report.Timestamp = received
	}
	if report.Metrics.System.Timestamp.IsZero() {
		report.Metrics.System.Timestamp = report.Timestamp
	}
	h.metrics.Observe(report.Metrics)
	h.metrics.reports.WithLabelValues("accepted").Inc()

	if h.archive != nil {
		body, err := json.Marshal(report)
		if err == nil {
			err = h.archive.EnqueueTelemetryArchive(c.Request.Context(), queue.TelemetryArchivePayload{
				MeetingID:  report.Metrics.System.MeetingID,
				ReceivedAt: received,
				Report:     body,
			})
		}
		if err != nil {
			h.logger.Warn("enqueue telemetry archive failed", zap.String("meeting_id", report.Metrics.System.MeetingID), zap.Error(err))
		}
	}
	response.Accepted(c)
}
