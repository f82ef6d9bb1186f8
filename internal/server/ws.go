package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/session"
)

const (
	writeWait  = 10 * time.Second
	maxMsgSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The agent serves trusted operators, not browsers on arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is the wire format in both directions. Outbound types are system,
// status, message, and error; inbound frames carry the user's text.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(frame)
}

// handleWebSocket runs one conversation per connection. Each connection gets
// its own session; closing the socket closes the session while its transcript
// stays in the store.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	raw.SetReadLimit(maxMsgSize)

	identity := "ws-" + uuid.New().String()
	sess := s.registry.GetOrCreate(session.ChannelInteractive, identity)
	defer s.registry.Close(sess)

	s.logger.Info("websocket connected",
		slog.String("session_id", sess.ID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	conn.send(Frame{Type: "system", Content: "Connected. Commands: reset, load <history-id>, exit."})

	for {
		var frame Frame
		if err := raw.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		text := strings.TrimSpace(frame.Content)
		if text == "" {
			conn.send(Frame{Type: "error", Content: "empty message"})
			continue
		}

		if done := s.dispatchCommand(r.Context(), conn, sess, text); done {
			return
		}
	}
}

// dispatchCommand handles in-band commands and otherwise advances the turn
// loop. Returns true when the connection should close.
func (s *Server) dispatchCommand(ctx context.Context, conn *wsConn, sess *session.Session, text string) bool {
	switch {
	case text == "exit" || text == "quit":
		conn.send(Frame{Type: "system", Content: "Goodbye."})
		return true

	case text == "reset":
		s.registry.Reset(sess)
		conn.send(Frame{Type: "system", Content: "Conversation reset."})
		return false

	case strings.HasPrefix(text, "load "):
		id := strings.TrimSpace(strings.TrimPrefix(text, "load "))
		if err := s.history.LoadInto(id, sess); err != nil {
			conn.send(Frame{Type: "error", Content: loadError(id, err)})
			return false
		}
		conn.send(Frame{Type: "system", Content: fmt.Sprintf("Loaded %s (%d turns).", id, sess.Len())})
		return false
	}

	conn.send(Frame{Type: "status", Content: "thinking"})

	answer, err := s.engine.Advance(ctx, sess, text)
	if err != nil {
		conn.send(Frame{Type: "error", Content: advanceError(err)})
		return false
	}
	conn.send(Frame{Type: "message", Content: answer})
	return false
}

func loadError(id string, err error) string {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Sprintf("no history named %s", id)
	}
	return fmt.Sprintf("load failed: %v", err)
}

func advanceError(err error) string {
	switch {
	case errors.Is(err, domain.ErrEngineBusy):
		return "a previous request is still running"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "the reasoning service is unavailable, try again shortly"
	case errors.Is(err, domain.ErrInvalidInput):
		return "empty message"
	default:
		return fmt.Sprintf("request failed: %v", err)
	}
}
