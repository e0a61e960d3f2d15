package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // join tokens gate access, not origins
	},
}

// ErrTokenMismatch is returned by verifiers when a token was issued for another meeting or attendee.
var ErrTokenMismatch = errors.New("join token does not match meeting or attendee")

// Grant is what a verified join token allows.
type Grant struct {
	MeetingID  string
	AttendeeID string
	Name       string
}

// TokenVerifier checks attendee join tokens.
type TokenVerifier interface {
	Verify(token string) (Grant, error)
}

// Client is one signaling connection of an attendee.
type Client struct {
	ID         string
	MeetingID  string
	AttendeeID string
	Name       string
	JoinedAt   time.Time

	hub    *Hub
	sfu    *SFU
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	joined bool
}

// ServeWs upgrades GET /ws?meeting_id=&attendee_id=&token= and runs the client loop.
// verifier may be nil to accept any attendee (local development).
func ServeWs(hub *Hub, sfu *SFU, verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingID := c.Query("meeting_id")
		attendeeID := c.Query("attendee_id")
		if meetingID == "" || attendeeID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "meeting_id and attendee_id required"})
			return
		}
		var name string
		if verifier != nil {
			grant, err := verifier.Verify(c.Query("token"))
			if err == nil && (grant.MeetingID != meetingID || grant.AttendeeID != attendeeID) {
				err = ErrTokenMismatch
			}
			if err != nil {
				logger.Info("join token rejected", zap.String("meeting_id", meetingID), zap.Error(err))
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
				return
			}
			name = grant.Name
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:         uuid.NewString(),
			MeetingID:  meetingID,
			AttendeeID: attendeeID,
			Name:       name,
			JoinedAt:   time.Now(),
			hub:        hub,
			sfu:        sfu,
			conn:       conn,
			send:       make(chan WSMessage, sendBuffer),
			done:       make(chan struct{}),
			logger:     logger.With(zap.String("meeting_id", meetingID), zap.String("attendee_id", attendeeID)),
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// Send queues an event for this client only.
func (c *Client) Send(event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		c.logger.Warn("encode message", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(msg)
}

func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message", zap.String("event", msg.Event))
	}
}

func (c *Client) markJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined {
		return false
	}
	c.joined = true
	return true
}

func (c *Client) hasJoined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

func (c *Client) readPump() {
	defer func() {
		close(c.done)
		if c.sfu != nil {
			c.sfu.RemoveAttendee(c.MeetingID, c.AttendeeID, c.ID)
		}
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("signaling connection lost", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	switch msg.Event {
	case EventJoin:
		c.hub.Join(c)
	case EventPublisherOffer, EventSubscriberAnswer:
		if c.sfu == nil {
			c.Send(EventError, ErrorPayload{Message: "media relay disabled"})
			return
		}
		var desc SessionDescription
		if err := json.Unmarshal(msg.Data, &desc); err != nil || desc.SDP == "" {
			c.Send(EventError, ErrorPayload{Message: "invalid session description"})
			return
		}
		var err error
		if msg.Event == EventPublisherOffer {
			err = c.sfu.HandlePublisherOffer(c.MeetingID, c.AttendeeID, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, c.Send)
		} else {
			err = c.sfu.HandleSubscriberAnswer(c.MeetingID, c.ID, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP})
		}
		if err != nil {
			c.logger.Warn("negotiation failed", zap.String("event", msg.Event), zap.Error(err))
			c.Send(EventError, ErrorPayload{Message: err.Error()})
		}
	case EventSubscribe:
		if c.sfu == nil {
			c.Send(EventError, ErrorPayload{Message: "media relay disabled"})
			return
		}
		if err := c.sfu.HandleSubscribe(c.MeetingID, c.AttendeeID, c.ID, c.Send); err != nil {
			c.logger.Warn("subscribe failed", zap.Error(err))
			c.Send(EventError, ErrorPayload{Message: err.Error()})
		}
	case EventICE:
		if c.sfu == nil {
			return
		}
		var payload ICEPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || len(payload.Candidate) == 0 {
			return
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(payload.Candidate, &cand); err != nil {
			return
		}
		var err error
		switch payload.Target {
		case TargetPublisher:
			err = c.sfu.HandlePublisherICE(c.MeetingID, c.AttendeeID, cand)
		case TargetSubscriber:
			err = c.sfu.HandleSubscriberICE(c.MeetingID, c.ID, cand)
		}
		if err != nil {
			c.logger.Debug("add ice candidate", zap.String("target", payload.Target), zap.Error(err))
		}
	case EventChatMessage:
		var chat ChatPayload
		if err := json.Unmarshal(msg.Data, &chat); err != nil || chat.Content == "" {
			return
		}
		if chat.ID == "" {
			chat.ID = uuid.NewString()
		}
		if chat.Timestamp.IsZero() {
			chat.Timestamp = time.Now().UTC()
		}
		if chat.Sender == "" {
			chat.Sender = c.Name
		}
		c.hub.Broadcast(c.MeetingID, EventChatMessage, c.AttendeeID, chat)
	default:
		// ignore
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
