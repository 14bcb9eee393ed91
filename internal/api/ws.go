package api

import (
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/fathima-sithara/chatsync/internal/session"
)

const writeWait = 10 * time.Second

// stream pushes every session update to one websocket client. A client that
// cannot keep up loses updates rather than stalling the session.
func (s *Server) stream(conn *websocket.Conn) {
	defer conn.Close()

	updates := make(chan session.Update, 64)
	stop := s.sess.Observe(func(u session.Update) {
		select {
		case updates <- u:
		default:
			s.log.Debugw("ws client lagging, update dropped", "kind", u.Kind)
		}
	})
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	s.log.Infow("ws client connected", "remote", conn.RemoteAddr().String())
	for {
		select {
		case <-closed:
			s.log.Infow("ws client disconnected")
			return
		case u := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				s.log.Debugw("ws write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
