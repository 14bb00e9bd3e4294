package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"regionping/internal/models"
)

const pingWriteTimeout = 5 * time.Second

var pingUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

func (s *Server) handlePingWS(w http.ResponseWriter, r *http.Request) {
	conn, err := pingUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.servePingConnection(conn)
}

// servePingConnection pushes the current result immediately and then on
// every push tick until the client goes away.
func (s *Server) servePingConnection(conn *websocket.Conn) {
	defer conn.Close()

	if err := writePingPayload(conn, s.deps.Ping.GetPingResult()); err != nil {
		return
	}

	ticker := time.NewTicker(s.deps.PushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := writePingPayload(conn, s.deps.Ping.GetPingResult()); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writePingPayload(conn *websocket.Conn, payload models.PingResult) error {
	_ = conn.SetWriteDeadline(time.Now().Add(pingWriteTimeout))
	return conn.WriteJSON(payload)
}
