package meetings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
	"github.com/educonnect/videocall/pkg/response"
)

// Handler serves the bootstrap endpoint.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates the bootstrap handler for svc.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts POST /meeting and its aliases /meetings/create and /meetings/join.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/meeting", h.Bootstrap)
	r.POST("/meetings/create", h.Bootstrap)
	r.POST("/meetings/join", h.Bootstrap)
}

// Bootstrap handles {meetingId, userName, region?} and responds with {Meeting, Attendee}.
func (h *Handler) Bootstrap(c *gin.Context) {
	var req models.BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	info, err := h.svc.Join(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("bootstrap failed", zap.String("meeting_id", req.MeetingID), zap.Error(err))
		response.Internal(c, "failed to join meeting")
		return
	}
	c.JSON(http.StatusOK, info)
}
