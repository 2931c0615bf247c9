// Package loki wires the protocol stack together: configuration, the
// session store, the tool registry, auth, both transports, and the peer
// server manager.
package loki

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/loki/conf"
	lokihttp "github.com/lokiorch/loki/internal/loki/http"
	"github.com/lokiorch/loki/internal/loki/session"
	"github.com/lokiorch/loki/internal/loki/tools"
	"github.com/lokiorch/loki/internal/mcp/auth"
	"github.com/lokiorch/loki/internal/mcp/manager"
	"github.com/lokiorch/loki/internal/mcp/server"
	"github.com/lokiorch/loki/internal/mcp/stdio"
	"github.com/lokiorch/loki/pkg/config"
	"github.com/lokiorch/loki/pkg/filewatch"
	"github.com/lokiorch/loki/pkg/version"
)

const AuthConfigName = "mcp-auth.json"

// App owns every long-lived service of a loki process.
type App struct {
	conf *conf.ServerConfig
	scm  *config.Manager

	store     *session.Store
	srv       *server.Server
	validator *auth.Validator
	mgr       *manager.Manager

	http      *lokihttp.Service
	authWatch *filewatch.Watcher
}

// New loads configuration and constructs all services. Nothing is
// listening or spawned yet.
func New(configPath string, cmdConf map[string]interface{}) (*App, error) {
	c, scm, err := conf.LoadServerConfig(configPath, cmdConf)
	if err != nil {
		return nil, err
	}

	root := c.GetProjectRoot()
	configDir := filepath.Join(root, manager.ConfigDirName)

	store, err := session.New(configDir)
	if err != nil {
		return nil, err
	}

	registry, err := tools.BuildRegistry(store)
	if err != nil {
		return nil, err
	}
	srv := server.New(conf.AppName, version.Version, registry)

	validator := auth.NewValidator()
	authPath := filepath.Join(configDir, AuthConfigName)
	if err := validator.LoadConfigFile(authPath); err != nil {
		return nil, err
	}
	srv.SetAuth(validator.AuthFunc())

	mgr, err := manager.New(manager.Options{
		ProjectRoot:      root,
		CallTimeout:      c.CallTimeout,
		BreakerThreshold: c.BreakerThreshold,
		BreakerCooldown:  c.BreakerCooldown,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		conf:      c,
		scm:       scm,
		store:     store,
		srv:       srv,
		validator: validator,
		mgr:       mgr,
	}

	if watcher, err := filewatch.New(authPath, app.reloadAuth); err == nil {
		app.authWatch = watcher
	}

	return app, nil
}

// Manager exposes the peer server manager for the orchestration loop.
func (a *App) Manager() *manager.Manager {
	return a.mgr
}

// Server exposes the protocol server, mainly for tests.
func (a *App) Server() *server.Server {
	return a.srv
}

// RunHTTP serves the HTTP/SSE transport until SIGINT/SIGTERM.
func (a *App) RunHTTP() error {
	a.startAuthWatch()
	defer a.Stop()

	a.http = lokihttp.NewService(a.conf, a.srv, a.validator)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	}
}

// RunStdio serves the stdio transport on the process streams until EOF.
func (a *App) RunStdio(ctx context.Context) error {
	a.startAuthWatch()
	defer a.Stop()

	t := stdio.New(a.srv, os.Stdin, os.Stdout)
	return t.Run(ctx)
}

// Stop tears down all services. Safe to call more than once.
func (a *App) Stop() {
	if a.authWatch != nil {
		a.authWatch.Stop()
	}
	if a.http != nil {
		if err := a.http.Stop(); err != nil {
			log.Debug().Err(err).Msg("http stop")
		}
		a.http = nil
	}
	a.mgr.Shutdown()
}

func (a *App) startAuthWatch() {
	if a.authWatch == nil {
		return
	}
	if err := a.authWatch.Start(); err != nil {
		log.Debug().Err(err).Msg("auth config watch unavailable")
		a.authWatch = nil
	}
}

func (a *App) reloadAuth(path string) {
	if err := a.validator.Reload(path); err != nil {
		log.Error().Err(err).Msg("auth config reload failed")
		return
	}
	log.Info().Bool("enabled", a.validator.Enabled()).Msg("auth config reloaded")
}
