package server

import (
	"log"
	"net/http"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket streams emitted entries to the client. The same query
// parameters as /api/logs narrow the stream; limit is ignored.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stream disabled"})
		return
	}
	var f model.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	m, err := query.Compile(f)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	entries := s.hub.Subscribe()
	defer s.hub.Unsubscribe(entries)

	// Read pump: detect client disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if !m.Match(&entry) {
				continue
			}
			if err := conn.WriteJSON(entry); err != nil {
				log.Printf("websocket write failed: %v", err)
				return
			}
		}
	}
}
