// README: WebSocket hub; delivers events to connected passengers, drivers and driver rooms.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Identity is who a connection belongs to and which rooms it joined.
type Identity struct {
	Kind  AudienceKind
	ID    string
	Rooms []string
}

type wsSession struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	identity Identity
}

func (s *wsSession) send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(e)
}

func (s *wsSession) matches(a Audience) bool {
	switch a.Kind {
	case AudienceRoom:
		for _, r := range s.identity.Rooms {
			if r == a.ID {
				return true
			}
		}
		return false
	default:
		return s.identity.Kind == a.Kind && s.identity.ID == a.ID
	}
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{sessions: make(map[*wsSession]struct{}), log: log}
}

// Serve registers conn and blocks reading until the peer goes away.
// Inbound messages are ignored; the socket is push-only.
func (h *Hub) Serve(conn *websocket.Conn, id Identity) {
	s := &wsSession{conn: conn, identity: id}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("ws session opened", zap.String("kind", string(id.Kind)), zap.String("id", id.ID))

	defer func() {
		h.mu.Lock()
		delete(h.sessions, s)
		h.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.RLock()
	targets := make([]*wsSession, 0)
	for s := range h.sessions {
		for _, a := range e.Audience {
			if s.matches(a) {
				targets = append(targets, s)
				break
			}
		}
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.send(e); err != nil {
			errs = append(errs, err)
			_ = s.conn.Close()
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
