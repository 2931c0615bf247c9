package http

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	SSEPingIntervalS = 30
	SSEContentType   = "text/event-stream; charset=utf-8"
)

type sseSession struct {
	id   string
	stop chan struct{}
}

type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sseSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*sseSession),
	}
}

func (r *sessionRegistry) add(s *sseSession) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		close(s.stop)
		delete(r.sessions, id)
	}
}

// handleEvents serves the SSE push channel. The first event is always
// `connected` so subscribers can confirm liveness immediately; after
// that the stream carries periodic ping comments until the client or
// the server goes away.
func (s *Service) handleEvents(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", SSEContentType)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	sess := &sseSession{
		id:   uuid.New().String(),
		stop: make(chan struct{}),
	}
	s.sessions.add(sess)
	defer s.sessions.remove(sess.id)

	writeEvent(c, "connected", fmt.Sprintf(`{"sessionId":%q}`, sess.id))
	log.Debug().Str("session", sess.id).Msg("sse subscriber connected")

	ticker := time.NewTicker(time.Second * SSEPingIntervalS)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			writePing(c)
		case <-c.Request.Context().Done():
			return
		case <-sess.stop:
			return
		}
	}
}

// writeEvent
// event: connected
// data: {"sessionId":"285d67ee-1c17-40d9-ab03-173d5ff48419"}
func writeEvent(c *gin.Context, event string, data string) {
	c.Writer.WriteString(fmt.Sprintf("event: %s\n", event))
	c.Writer.WriteString(fmt.Sprintf("data: %s\n\n", data))
	c.Writer.Flush()
}

// writePing
// : ping - 2025-03-16 06:41:51.280928+00:00
func writePing(c *gin.Context) {
	c.Writer.WriteString(fmt.Sprintf(": ping - %s\n\n", time.Now().Format("2006-01-02 15:04:05.999999-07:00")))
	c.Writer.Flush()
}
