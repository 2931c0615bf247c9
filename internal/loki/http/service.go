package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/errors"
	"github.com/lokiorch/loki/internal/mcp/auth"
	"github.com/lokiorch/loki/internal/mcp/server"
)

// Service is the HTTP/SSE transport: it exposes the protocol server over
// POST /mcp with an SSE push channel on GET /mcp/events.
type Service struct {
	conf      Config
	srv       *server.Server
	validator *auth.Validator

	router   *gin.Engine
	server   *http.Server
	sessions *sessionRegistry
}

type Config interface {
	GetHTTPAddr() string
}

func NewService(conf Config, srv *server.Server, validator *auth.Validator) *Service {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if err := router.SetTrustedProxies(nil); err != nil {
		log.Err(err).Msg("Failed to set trusted proxies")
	}

	// Middleware
	router.Use(
		errors.RecoveryMiddleware(),
		errors.ErrorHandlerMiddleware(),
		gin.LoggerWithWriter(log.Logger, "/mcp/health"),
		corsMiddleware(),
	)

	s := &Service{
		conf:      conf,
		srv:       srv,
		validator: validator,
		router:    router,
		sessions:  newSessionRegistry(),
	}

	s.initRouter()
	return s
}

func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:    s.conf.GetHTTPAddr(),
		Handler: s.router,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Msg("Starting HTTP server on " + s.conf.GetHTTPAddr())
	return nil
}

func (s *Service) ListenAndServe() error {
	s.server = &http.Server{
		Addr:    s.conf.GetHTTPAddr(),
		Handler: s.router,
	}

	log.Info().Msg("Starting HTTP server on " + s.conf.GetHTTPAddr())
	return s.server.ListenAndServe()
}

func (s *Service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.sessions.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Failed to shutdown HTTP server")
		return nil
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Service) GetRouter() *gin.Engine {
	return s.router
}
