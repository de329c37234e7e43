package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"notifyd/pkg/logx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to localhost; the reverse proxy owns origin
		// policy.
		return true
	},
}

const socketReadDeadline = 60 * time.Second

// handleSocket upgrades the request and registers the session with the
// push hub. The read loop exists only to service pongs and detect
// close; notifications flow one way, server to client.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debug("websocket upgrade failed", logx.String("user", userID), logx.Err(err))
		return
	}

	sess := s.hub.Attach(userID, conn)
	defer s.hub.Detach(sess)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(socketReadDeadline))
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		return conn.SetReadDeadline(time.Now().Add(socketReadDeadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
