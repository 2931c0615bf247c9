package conf

import (
	"time"
)

// ServerConfig holds everything the serve and stdio commands need.
type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	ProjectRoot string `mapstructure:"project_root"`
	WorkDir     string `mapstructure:"work_dir"`

	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

var ServerDefaults = map[string]interface{}{
	"http_addr":         "127.0.0.1:5030",
	"project_root":      ".",
	"work_dir":          "",
	"call_timeout":      "30s",
	"breaker_threshold": 5,
	"breaker_cooldown":  "30s",
}

func (c *ServerConfig) GetHTTPAddr() string {
	return c.HTTPAddr
}

func (c *ServerConfig) GetProjectRoot() string {
	if c.ProjectRoot == "" {
		return "."
	}
	return c.ProjectRoot
}
