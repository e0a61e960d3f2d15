package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// PresenceChangeHandler is called with the number of local connections after a join or leave.
type PresenceChangeHandler func(meetingID string, count int)

// Publisher fans meeting events out to other instances.
type Publisher interface {
	PublishMeetingEvent(meetingID, event, except string, payload []byte) error
}

// Subscriber delivers meeting events published by any instance, this one included.
type Subscriber interface {
	SubscribeMeeting(meetingID string, handler func(event, except string, payload []byte)) (cancel func(), err error)
}

// Hub tracks the signaling connections of every meeting on this instance.
// With a Publisher configured, meeting-wide events go through Redis and are delivered
// to local clients by the subscription, so each client sees them once.
type Hub struct {
	meetings   map[string]map[string]*Client
	subs       map[string]func()
	mu         sync.RWMutex
	logger     *zap.Logger
	pub        Publisher
	sub        Subscriber
	onPresence PresenceChangeHandler
}

// NewHub creates a hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		meetings: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		logger:   logger,
		pub:      pub,
		sub:      sub,
	}
}

// SetPresenceChangeHandler sets the callback for connection count changes.
func (h *Hub) SetPresenceChangeHandler(fn PresenceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// Register adds a client to its meeting room and subscribes to the meeting channel
// when it is the first local client. The subscription is made without holding the lock.
func (h *Hub) Register(c *Client) {
	meetingID := c.MeetingID
	var cancel func()
	subscribed := false
	for {
		h.mu.Lock()
		if h.meetings[meetingID] != nil || h.sub == nil || subscribed {
			break
		}
		h.mu.Unlock()
		cancel = h.subscribe(meetingID)
		subscribed = true
	}

	if h.meetings[meetingID] == nil {
		h.meetings[meetingID] = make(map[string]*Client)
	}
	if _, ok := h.subs[meetingID]; !ok && cancel != nil {
		h.subs[meetingID] = cancel
		cancel = nil
	}
	h.meetings[meetingID][c.ID] = c
	count := len(h.meetings[meetingID])
	onPresence := h.onPresence
	h.mu.Unlock()

	// a concurrent Register subscribed first
	if cancel != nil {
		cancel()
	}
	if onPresence != nil {
		onPresence(meetingID, count)
	}
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("meeting_id", meetingID))
}

func (h *Hub) subscribe(meetingID string) func() {
	cancel, err := h.sub.SubscribeMeeting(meetingID, func(event, except string, payload []byte) {
		h.broadcastLocal(meetingID, event, except, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("meeting subscription failed", zap.String("meeting_id", meetingID), zap.Error(err))
		return nil
	}
	return cancel
}

// Unregister removes a client and announces its departure if it had joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.meetings[c.MeetingID]; ok {
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.meetings, c.MeetingID)
			if cancel, ok := h.subs[c.MeetingID]; ok {
				cancel()
				delete(h.subs, c.MeetingID)
			}
		}
	}
	onPresence := h.onPresence
	h.mu.Unlock()

	if c.hasJoined() {
		h.Broadcast(c.MeetingID, EventAttendeePresence, c.AttendeeID, PresencePayload{AttendeeID: c.AttendeeID, Present: false})
	}
	if onPresence != nil {
		onPresence(c.MeetingID, count)
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("meeting_id", c.MeetingID))
}

// Join announces c to the meeting and tells c who is already there.
func (h *Hub) Join(c *Client) {
	if !c.markJoined() {
		return
	}
	h.mu.RLock()
	var present []string
	seen := map[string]bool{c.AttendeeID: true}
	for _, other := range h.meetings[c.MeetingID] {
		if other.hasJoined() && !seen[other.AttendeeID] {
			seen[other.AttendeeID] = true
			present = append(present, other.AttendeeID)
		}
	}
	h.mu.RUnlock()

	for _, id := range present {
		c.Send(EventAttendeePresence, PresencePayload{AttendeeID: id, Present: true})
	}
	h.Broadcast(c.MeetingID, EventAttendeePresence, c.AttendeeID, PresencePayload{AttendeeID: c.AttendeeID, Present: true})
}

// Broadcast delivers an event to every client of the meeting except those of attendee except.
func (h *Hub) Broadcast(meetingID, event, except string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		h.logger.Warn("encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		err := h.pub.PublishMeetingEvent(meetingID, event, except, msg.Data)
		if err == nil {
			return
		}
		h.logger.Warn("publish meeting event failed, delivering locally", zap.String("meeting_id", meetingID), zap.Error(err))
	}
	h.broadcastLocal(meetingID, event, except, msg.Data)
}

func (h *Hub) broadcastLocal(meetingID, event, except string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.meetings[meetingID]))
	for _, c := range h.meetings[meetingID] {
		if except != "" && c.AttendeeID == except {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// Connections returns the number of local connections in a meeting.
func (h *Hub) Connections(meetingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meetings[meetingID])
}
