// Package bootstrap obtains meeting and attendee descriptors from the meeting bootstrap endpoint.
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/educonnect/videocall/internal/models"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 1 << 20

// Client posts {meetingId, userName, region?} to the bootstrap endpoint.
type Client struct {
	endpoint   string
	region     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRegion sets the media region sent with every request.
func WithRegion(region string) Option {
	return func(c *Client) { c.region = region }
}

// WithTimeout bounds each bootstrap call. Zero leaves only the transport's own limits.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a bootstrap client for endpoint (e.g. https://api.example.com/meeting).
func NewClient(endpoint string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bootstrap joins meetingID as userName, creating the meeting first if it does not exist.
// Calls with the same meetingID land in the same meeting, each with a fresh attendee.
func (c *Client) Bootstrap(ctx context.Context, meetingID, userName string) (*models.JoinInfo, error) {
	if meetingID == "" || userName == "" {
		return nil, &Error{Message: "meetingId and userName are required"}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(models.BootstrapRequest{MeetingID: meetingID, UserName: userName, Region: c.region})
	if err != nil {
		return nil, &Error{Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("bootstrap request failed", zap.String("meeting_id", meetingID), zap.Error(err))
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(raw)
		c.logger.Warn("bootstrap rejected",
			zap.String("meeting_id", meetingID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	var info models.JoinInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &Error{Message: "decode response", Err: err}
	}
	if err := validate(&info); err != nil {
		return nil, &Error{Message: serverMessage(raw), Err: err}
	}

	c.logger.Info("meeting bootstrapped",
		zap.String("meeting_id", info.Meeting.MeetingID),
		zap.String("attendee_id", info.Attendee.AttendeeID),
	)
	return &info, nil
}

func validate(info *models.JoinInfo) error {
	switch {
	case info.Meeting == nil:
		return errors.New("response missing Meeting")
	case info.Attendee == nil:
		return errors.New("response missing Attendee")
	case info.Meeting.MediaPlacement == nil:
		return errors.New("response missing MediaPlacement")
	case info.Meeting.MeetingID == "":
		return errors.New("response missing MeetingId")
	case info.Attendee.AttendeeID == "":
		return errors.New("response missing AttendeeId")
	}
	return nil
}

// serverMessage extracts {"error": ...} or {"message": ...} from a response body.
func serverMessage(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}
