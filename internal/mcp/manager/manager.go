// Package manager aggregates many peer MCP servers behind one catalog.
// Each declared server gets its own Client and an independent circuit
// breaker, so a failing or hung peer never blocks calls to the others.
package manager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/errors"
	"github.com/lokiorch/loki/internal/mcp"
	"github.com/lokiorch/loki/internal/mcp/client"
)

// Options configures a Manager.
type Options struct {
	ProjectRoot string
	// ConfigDir defaults to <ProjectRoot>/.loki and must resolve inside
	// the project root.
	ConfigDir string

	CallTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type serverEntry struct {
	name       string
	client     *client.Client
	breaker    *Breaker
	tools      []mcp.Tool
	connectErr error
}

// Manager owns one Client per declared server and routes tool calls by
// bare tool name.
type Manager struct {
	opts Options
	conf *Config

	mu         sync.RWMutex
	servers    map[string]*serverEntry
	order      []string
	toolIndex  map[string]string // tool name -> owning server
	discovered bool
}

// New resolves and loads the configuration. A config location escaping
// the project root is rejected here, before any server is touched.
func New(opts Options) (*Manager, error) {
	dir, err := resolveConfigDir(opts.ProjectRoot, opts.ConfigDir)
	if err != nil {
		return nil, err
	}

	conf, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		opts:      opts,
		conf:      conf,
		servers:   make(map[string]*serverEntry),
		toolIndex: make(map[string]string),
	}, nil
}

// DiscoverTools connects every declared server and merges their catalogs.
// It is idempotent: repeat calls return the same aggregate over the same
// Client instances without reconnecting. A server that fails to connect
// is recorded as failed but still counts as a known server.
func (m *Manager) DiscoverTools(ctx context.Context) ([]mcp.Tool, error) {
	m.mu.Lock()
	if m.discovered {
		m.mu.Unlock()
		return m.GetAllTools(), nil
	}

	for _, decl := range m.conf.MCPServers {
		if decl.Name == "" || m.servers[decl.Name] != nil {
			log.Warn().Str("server", decl.Name).Msg("skipping duplicate or unnamed server declaration")
			continue
		}

		entry := &serverEntry{
			name:    decl.Name,
			breaker: newBreaker(m.opts.BreakerThreshold, m.opts.BreakerCooldown),
		}
		c, err := client.New(client.Config{
			Name:    decl.Name,
			Command: decl.Command,
			Args:    decl.Args,
			Timeout: m.opts.CallTimeout,
		})
		if err != nil {
			// Blocked or malformed command: the server is known but failed.
			entry.connectErr = err
			log.Error().Err(err).Str("server", decl.Name).Msg("rejected server declaration")
		} else {
			entry.client = c
		}
		m.servers[decl.Name] = entry
		m.order = append(m.order, decl.Name)
	}
	entries := make([]*serverEntry, 0, len(m.order))
	for _, name := range m.order {
		entries = append(entries, m.servers[name])
	}
	m.mu.Unlock()

	// Connect concurrently; one slow peer must not delay the others.
	var wg sync.WaitGroup
	for _, entry := range entries {
		if entry.client == nil {
			continue
		}
		wg.Add(1)
		go func(entry *serverEntry) {
			defer wg.Done()
			tools, err := entry.client.Connect(ctx)
			m.mu.Lock()
			entry.tools = tools
			entry.connectErr = err
			m.mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("server", entry.name).Msg("failed to connect to server")
			}
		}(entry)
	}
	wg.Wait()

	m.mu.Lock()
	for _, name := range m.order {
		entry := m.servers[name]
		for _, tool := range entry.tools {
			if owner, taken := m.toolIndex[tool.Name]; taken {
				log.Warn().Str("tool", tool.Name).Str("server", name).Str("owner", owner).Msg("duplicate tool name, keeping first registration")
				continue
			}
			m.toolIndex[tool.Name] = name
		}
	}
	m.discovered = true
	m.mu.Unlock()

	tools := m.GetAllTools()
	log.Info().Int("servers", m.ServerCount()).Int("tools", len(tools)).Uint64("catalog", catalogFingerprint(tools)).Msg("tool discovery complete")
	return tools, nil
}

// CallTool routes a call to the server owning the tool, through that
// server's breaker.
func (m *Manager) CallTool(ctx context.Context, name string, args mcp.M) (*mcp.ToolsCallResponse, error) {
	m.mu.RLock()
	owner, ok := m.toolIndex[name]
	var entry *serverEntry
	if ok {
		entry = m.servers[owner]
	}
	m.mu.RUnlock()

	if entry == nil || entry.client == nil {
		return nil, errors.NoServerForTool(name)
	}

	if !entry.breaker.Allow() {
		return nil, errors.CircuitOpen(entry.name)
	}

	result, err := entry.client.CallTool(ctx, name, args)
	if err != nil {
		entry.breaker.Failure()
		return nil, err
	}
	entry.breaker.Success()
	return result, nil
}

// GetAllTools returns the aggregated catalog in declaration order.
func (m *Manager) GetAllTools() []mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []mcp.Tool
	for _, name := range m.order {
		tools = append(tools, m.servers[name].tools...)
	}
	return tools
}

// GetToolsByServer returns one server's catalog, nil for unknown names.
func (m *Manager) GetToolsByServer(name string) []mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.servers[name]
	if !ok {
		return nil
	}
	return entry.tools
}

// GetServerState exposes the breaker state, nil for unknown servers.
func (m *Manager) GetServerState(name string) *BreakerState {
	m.mu.RLock()
	entry, ok := m.servers[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	state := entry.breaker.State()
	return &state
}

// ConnectError returns the recorded connect failure for a server, nil
// when it connected or is unknown.
func (m *Manager) ConnectError(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.servers[name]
	if !ok {
		return nil
	}
	return entry.connectErr
}

// ServerCount returns the number of known servers, connected or failed.
func (m *Manager) ServerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.servers)
}

// Shutdown disconnects every client and clears all registry state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, entry := range m.servers {
		entries = append(entries, entry)
	}
	m.servers = make(map[string]*serverEntry)
	m.order = nil
	m.toolIndex = make(map[string]string)
	m.discovered = false
	m.mu.Unlock()

	for _, entry := range entries {
		if entry.client != nil {
			entry.client.Shutdown()
		}
	}
	log.Info().Msg("manager shut down")
}

// catalogFingerprint hashes the marshaled catalog so repeated discoveries
// are easy to compare in logs.
func catalogFingerprint(tools []mcp.Tool) uint64 {
	b, err := json.Marshal(tools)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
