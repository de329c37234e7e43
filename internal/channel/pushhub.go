package channel

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notifyd/pkg/logx"
)

// Hub tracks in-app sessions and their notification permission. It is
// the production Presenter: one user may hold several connections
// (multiple tabs), each receiving every display.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*Session]struct{}
	perms map[string]PermissionState

	log logx.Logger
}

type Session struct {
	conn   *websocket.Conn
	userID string

	// wmu serializes writes to the websocket and guards lastSeen,
	// which the read loop's pong handler and the heartbeat goroutine
	// both touch.
	wmu      sync.Mutex
	lastSeen time.Time
}

func NewHub(log logx.Logger) *Hub {
	return &Hub{
		conns: map[string]map[*Session]struct{}{},
		perms: map[string]PermissionState{},
		log:   log,
	}
}

// Attach registers a session connection for a user.
func (h *Hub) Attach(userID string, conn *websocket.Conn) *Session {
	c := &Session{conn: conn, userID: userID, lastSeen: time.Now()}
	h.mu.Lock()
	if _, ok := h.conns[userID]; !ok {
		h.conns[userID] = map[*Session]struct{}{}
	}
	h.conns[userID][c] = struct{}{}
	n := len(h.conns[userID])
	h.mu.Unlock()

	h.log.Debug("push session attached", logx.String("user", userID), logx.Int("sessions", n))
	return c
}

// Detach removes and closes a session connection.
func (h *Hub) Detach(c *Session) {
	h.mu.Lock()
	if set, ok := h.conns[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close()
	h.log.Debug("push session detached", logx.String("user", c.userID))
}

// SetPermission records the session's answer to the permission prompt.
func (h *Hub) SetPermission(userID string, state PermissionState) {
	h.mu.Lock()
	h.perms[userID] = state
	h.mu.Unlock()
}

// SessionCount reports how many live connections a user holds.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

func (h *Hub) PermissionState(userID string) PermissionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.perms[userID]; ok {
		return st
	}
	return PermissionDefault
}

// pushPayload is the wire shape sessions receive. DismissAfterMs is
// zero when the notification requires interaction.
type pushPayload struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Body               string `json:"body"`
	RequireInteraction bool   `json:"requireInteraction"`
	DismissAfterMs     int64  `json:"dismissAfterMs,omitempty"`
	SentAt             string `json:"sentAt"`
}

// Display fans the notification out to every session of the user.
// Zero connected sessions is still a success: permission was granted
// and the display is local best-effort. Connections that fail to write
// are dropped.
func (h *Hub) Display(userID, title, body string, opts DisplayOptions) (string, error) {
	p := pushPayload{
		ID:                 uuid.NewString(),
		Title:              title,
		Body:               body,
		RequireInteraction: opts.RequireInteraction,
		SentAt:             time.Now().Format(time.RFC3339),
	}
	if !opts.RequireInteraction && opts.DismissAfter > 0 {
		p.DismissAfterMs = opts.DismissAfter.Milliseconds()
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var dead []*Session
	for _, c := range targets {
		c.wmu.Lock()
		err := c.conn.WriteJSON(p)
		c.wmu.Unlock()
		if err != nil {
			h.log.Warn("push write failed", logx.String("user", userID), logx.Err(err))
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.Detach(c)
	}

	return p.ID, nil
}

// Touch refreshes a connection's liveness timestamp (pong handler).
func (c *Session) Touch() {
	c.wmu.Lock()
	c.lastSeen = time.Now()
	c.wmu.Unlock()
}

// idle reports how long the session has gone without a pong.
func (c *Session) idle() time.Duration {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return time.Since(c.lastSeen)
}

// Conn exposes the underlying websocket for read-loop handling.
func (c *Session) Conn() *websocket.Conn { return c.conn }

// Heartbeat pings all sessions periodically and drops silent ones.
func (h *Hub) Heartbeat(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		var all []*Session
		for _, set := range h.conns {
			for c := range set {
				all = append(all, c)
			}
		}
		h.mu.RUnlock()

		for _, c := range all {
			if c.idle() > 2*interval {
				h.Detach(c)
				continue
			}
			c.wmu.Lock()
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			c.wmu.Unlock()
		}
	}
}
