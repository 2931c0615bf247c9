package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lokiorch/loki/internal/errors"
)

func writeConfig(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, ConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestNewRejectsConfigOutsideRoot(t *testing.T) {
	root := t.TempDir()

	escapes := []string{
		"/etc",
		"../elsewhere",
		"../../etc",
		filepath.Join(root, "..", "sibling"),
	}
	for _, dir := range escapes {
		_, err := New(Options{ProjectRoot: root, ConfigDir: dir})
		if err == nil {
			t.Errorf("New() with config dir %q should fail", dir)
			continue
		}
		if !strings.Contains(err.Error(), "outside the project root") {
			t.Errorf("New() with config dir %q error = %v", dir, err)
		}
	}
}

func TestNewAcceptsConfigInsideRoot(t *testing.T) {
	root := t.TempDir()

	inside := []string{
		"",
		".loki",
		"nested/config",
		filepath.Join(root, ".loki"),
	}
	for _, dir := range inside {
		if _, err := New(Options{ProjectRoot: root, ConfigDir: dir}); err != nil {
			t.Errorf("New() with config dir %q failed: %v", dir, err)
		}
	}
}

func TestMissingConfigYieldsEmptyManager(t *testing.T) {
	m, err := New(Options{ProjectRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tools, err := m.DiscoverTools(context.Background())
	if err != nil {
		t.Fatalf("DiscoverTools() failed: %v", err)
	}
	if len(tools) != 0 || m.ServerCount() != 0 {
		t.Errorf("empty config produced %d tools over %d servers", len(tools), m.ServerCount())
	}
}

func TestLoadConfigYAML(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", `
mcp_servers:
  - name: alpha
    command: /bin/alpha-server
    args: ["--stdio"]
  - name: beta
    command: /bin/beta-server
`)

	m, err := New(Options{ProjectRoot: root})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if len(m.conf.MCPServers) != 2 {
		t.Fatalf("parsed %d servers, want 2", len(m.conf.MCPServers))
	}
	if m.conf.MCPServers[0].Name != "alpha" || m.conf.MCPServers[0].Command != "/bin/alpha-server" {
		t.Errorf("first declaration = %+v", m.conf.MCPServers[0])
	}
	if len(m.conf.MCPServers[0].Args) != 1 || m.conf.MCPServers[0].Args[0] != "--stdio" {
		t.Errorf("first declaration args = %+v", m.conf.MCPServers[0].Args)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.json", `{
		"mcp_servers": [
			{"name": "gamma", "command": "/bin/gamma-server", "args": []}
		]
	}`)

	m, err := New(Options{ProjectRoot: root})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if len(m.conf.MCPServers) != 1 || m.conf.MCPServers[0].Name != "gamma" {
		t.Errorf("json config = %+v", m.conf.MCPServers)
	}
}

func TestConfigSanitizesForbiddenKeys(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.json", `{
		"__proto__": {"polluted": true},
		"mcp_servers": [
			{
				"name": "delta",
				"command": "/bin/delta-server",
				"constructor": {"hijack": 1},
				"prototype": "nope"
			}
		]
	}`)

	m, err := New(Options{ProjectRoot: root})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if len(m.conf.MCPServers) != 1 || m.conf.MCPServers[0].Name != "delta" {
		t.Errorf("sanitized config = %+v", m.conf.MCPServers)
	}
}

func TestSanitizeValueRecursion(t *testing.T) {
	in := map[string]interface{}{
		"__proto__": "evil",
		"keep": map[string]interface{}{
			"constructor": "evil",
			"nested":      []interface{}{map[string]interface{}{"prototype": "evil", "ok": 1}},
		},
	}

	out, ok := sanitizeValue(in).(map[string]interface{})
	if !ok {
		t.Fatalf("sanitizeValue returned %T", sanitizeValue(in))
	}
	if _, present := out["__proto__"]; present {
		t.Errorf("top-level forbidden key survived")
	}
	keep := out["keep"].(map[string]interface{})
	if _, present := keep["constructor"]; present {
		t.Errorf("nested forbidden key survived")
	}
	item := keep["nested"].([]interface{})[0].(map[string]interface{})
	if _, present := item["prototype"]; present {
		t.Errorf("forbidden key inside list item survived")
	}
	if item["ok"] != 1 {
		t.Errorf("legitimate nested value dropped: %+v", item)
	}
}

func TestDiscoverRecordsFailedServers(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", `
mcp_servers:
  - name: shelly
    command: bash
  - name: ghost
    command: `+filepath.Join(root, "no-such-binary")+`
`)

	m, err := New(Options{ProjectRoot: root, CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tools, err := m.DiscoverTools(context.Background())
	if err != nil {
		t.Fatalf("DiscoverTools() failed: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("failed servers contributed tools: %+v", tools)
	}

	// Both servers are known even though neither connected.
	if m.ServerCount() != 2 {
		t.Fatalf("ServerCount() = %d, want 2", m.ServerCount())
	}

	blockedErr := m.ConnectError("shelly")
	if blockedErr == nil || !errors.Is(blockedErr, errors.ErrTypeSecurity) {
		t.Errorf("blocked command error = %v, want security error", blockedErr)
	}

	spawnErr := m.ConnectError("ghost")
	if spawnErr == nil || !strings.Contains(spawnErr.Error(), "failed to spawn") {
		t.Errorf("spawn error = %v", spawnErr)
	}
}

func TestDiscoverIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", `
mcp_servers:
  - name: ghost
    command: `+filepath.Join(root, "no-such-binary")+`
`)

	m, err := New(Options{ProjectRoot: root, CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if _, err := m.DiscoverTools(context.Background()); err != nil {
		t.Fatalf("DiscoverTools() failed: %v", err)
	}
	if _, err := m.DiscoverTools(context.Background()); err != nil {
		t.Fatalf("second DiscoverTools() failed: %v", err)
	}
	if m.ServerCount() != 1 {
		t.Errorf("repeat discovery duplicated servers: %d", m.ServerCount())
	}
}

func TestCallToolUnknown(t *testing.T) {
	m, err := New(Options{ProjectRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := m.DiscoverTools(context.Background()); err != nil {
		t.Fatalf("DiscoverTools() failed: %v", err)
	}

	_, err = m.CallTool(context.Background(), "nonexistent", nil)
	if err == nil {
		t.Fatalf("CallTool() for unknown tool should fail")
	}
	want := "no server found for tool: nonexistent"
	if !strings.Contains(err.Error(), want) {
		t.Errorf("unknown tool error = %v, want %q", err, want)
	}
}

func TestGetServerState(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", `
mcp_servers:
  - name: ghost
    command: `+filepath.Join(root, "no-such-binary")+`
`)

	m, err := New(Options{ProjectRoot: root, CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := m.DiscoverTools(context.Background()); err != nil {
		t.Fatalf("DiscoverTools() failed: %v", err)
	}

	state := m.GetServerState("ghost")
	if state == nil || *state != BreakerClosed {
		t.Errorf("GetServerState(ghost) = %v, want CLOSED", state)
	}
	if state := m.GetServerState("unknown"); state != nil {
		t.Errorf("GetServerState(unknown) = %v, want nil", state)
	}
}

func TestShutdownClearsState(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "config.yaml", `
mcp_servers:
  - name: ghost
    command: `+filepath.Join(root, "no-such-binary")+`
`)

	m, err := New(Options{ProjectRoot: root, CallTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := m.DiscoverTools(context.Background()); err != nil {
		t.Fatalf("DiscoverTools() failed: %v", err)
	}

	m.Shutdown()
	if m.ServerCount() != 0 {
		t.Errorf("ServerCount() after shutdown = %d", m.ServerCount())
	}
	if tools := m.GetAllTools(); len(tools) != 0 {
		t.Errorf("catalog survived shutdown: %+v", tools)
	}
}
