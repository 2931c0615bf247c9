package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/lokiorch/loki/internal/errors"
)

const (
	// ConfigDirName is the project-local configuration directory.
	ConfigDirName = ".loki"

	configYAML = "config.yaml"
	configJSON = "config.json"
)

// ServerDecl is one declared peer server.
type ServerDecl struct {
	Name    string   `mapstructure:"name" json:"name" yaml:"name"`
	Command string   `mapstructure:"command" json:"command" yaml:"command"`
	Args    []string `mapstructure:"args" json:"args" yaml:"args"`
}

// Config is the manager's view of .loki/config.yaml or .json.
type Config struct {
	MCPServers []ServerDecl `mapstructure:"mcp_servers"`
}

// Keys that let configuration data reach shared object prototypes in
// JavaScript runtimes. They have no business in a server declaration and
// are discarded at every nesting level rather than trusted anywhere
// downstream.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// resolveConfigDir normalizes the config location and requires it to stay
// inside the project root. Escapes are rejected at construction, not at
// first use.
func resolveConfigDir(projectRoot, configDir string) (string, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", errors.Config("failed to resolve project root", err)
	}

	if configDir == "" {
		configDir = filepath.Join(root, ConfigDirName)
	}
	if !filepath.IsAbs(configDir) {
		configDir = filepath.Join(root, configDir)
	}
	dir := filepath.Clean(configDir)

	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.ConfigOutsideRoot(configDir)
	}
	return dir, nil
}

// loadConfig reads config.yaml (preferred) or config.json from dir. Both
// formats are first decoded into plain maps, stripped of forbidden keys,
// and only then shaped into typed config. A missing file yields an empty
// configuration.
func loadConfig(dir string) (*Config, error) {
	raw, err := readRawConfig(dir)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &Config{}, nil
	}

	sanitized, _ := sanitizeValue(raw).(map[string]interface{})

	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &conf,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Config("failed to build config decoder", err)
	}
	if err := decoder.Decode(sanitized); err != nil {
		return nil, errors.Config("failed to decode server config", err)
	}
	return &conf, nil
}

func readRawConfig(dir string) (map[string]interface{}, error) {
	yamlPath := filepath.Join(dir, configYAML)
	if data, err := os.ReadFile(yamlPath); err == nil {
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Config("failed to parse "+configYAML, err)
		}
		return raw, nil
	}

	jsonPath := filepath.Join(dir, configJSON)
	if data, err := os.ReadFile(jsonPath); err == nil {
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Config("failed to parse "+configJSON, err)
		}
		return raw, nil
	}

	return nil, nil
}

// sanitizeValue discards forbidden keys recursively, in maps at any depth
// and inside list items.
func sanitizeValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			if _, forbidden := forbiddenKeys[k]; forbidden {
				continue
			}
			out[k] = sanitizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(value))
		for _, item := range value {
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return v
	}
}
