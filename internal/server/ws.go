package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/cmdgate/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS subscribes the caller to their own topic, and admins to the admin
// topic as well.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err, "user_id", u.ID)
		return
	}
	topics := []string{notify.UserTopic(u.ID)}
	if u.IsAdmin() {
		topics = append(topics, notify.TopicAdmin)
	}
	s.hub.Attach(r.Context(), conn, topics...)
}
