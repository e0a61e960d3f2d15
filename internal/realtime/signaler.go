package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrSignalerClosed is returned by Send after the connection is gone.
var ErrSignalerClosed = errors.New("signaling connection closed")

// DialParams identify the attendee to the signaling server.
type DialParams struct {
	MeetingID  string
	AttendeeID string
	Token      string
}

// Signaler is the attendee side of a signaling connection. Incoming messages are handed to the
// handler one at a time on the read goroutine.
type Signaler struct {
	conn    *websocket.Conn
	send    chan WSMessage
	handler func(WSMessage)
	logger  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial connects to the signaling endpoint and starts the read and write pumps.
func Dial(ctx context.Context, endpoint string, params DialParams, handler func(WSMessage), logger *zap.Logger) (*Signaler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	q.Set("meeting_id", params.MeetingID)
	q.Set("attendee_id", params.AttendeeID)
	if params.Token != "" {
		q.Set("token", params.Token)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	s := &Signaler{
		conn:    conn,
		send:    make(chan WSMessage, sendBuffer),
		handler: handler,
		logger:  logger.With(zap.String("meeting_id", params.MeetingID)),
		done:    make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	return s, nil
}

// Send queues an event for the server.
func (s *Signaler) Send(event string, payload interface{}) error {
	msg, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	select {
	case <-s.done:
		return ErrSignalerClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSignalerClosed
	}
}

// Done is closed when the connection ends for any reason.
func (s *Signaler) Done() <-chan struct{} { return s.done }

// Err returns why the connection ended; nil after Close.
func (s *Signaler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the connection. Safe to call more than once.
func (s *Signaler) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Signaler) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Signaler) readPump() {
	defer func() {
		_ = s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Info("signaling connection lost", zap.Error(err))
				s.shutdown(fmt.Errorf("signaling read: %w", err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		if s.handler != nil {
			s.handler(msg)
		}
	}
}

func (s *Signaler) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.shutdown(fmt.Errorf("signaling write: %w", err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(fmt.Errorf("signaling ping: %w", err))
				return
			}
		}
	}
}
