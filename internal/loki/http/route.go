package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/mcp"
)

const maxBodyBytes = 4 << 20

func (s *Service) initRouter() {
	s.router.GET("/mcp/health", s.handleHealth)
	s.router.POST("/mcp", s.handleMessages)
	s.router.OPTIONS("/mcp", func(c *gin.Context) {
		// corsMiddleware answers preflights with 204 before this runs;
		// the route exists so OPTIONS /mcp is never a 404.
		c.Status(http.StatusNoContent)
	})
	s.router.GET("/mcp/events", s.handleEvents)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "transport": "sse"})
}

// handleMessages accepts a single JSON-RPC object or a batch array and
// dispatches it exactly like the stdio transport does.
func (s *Service) handleMessages(c *gin.Context) {
	if s.validator != nil && s.validator.Enabled() {
		result := s.validator.ValidateHeader(c.GetHeader("Authorization"))
		if !result.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": result.Error})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, mcp.ErrParseError.Response(nil))
		return
	}

	out, parseErr := s.srv.HandleRaw(c.Request.Context(), body)
	if parseErr {
		c.Data(http.StatusBadRequest, "application/json; charset=utf-8", out)
		return
	}
	if out == nil {
		// Notifications produce no reply body.
		c.Status(http.StatusAccepted)
		return
	}

	log.Debug().Int("bytes", len(out)).Msg("mcp response")
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}
