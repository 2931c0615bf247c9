package conf

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/pkg/config"
)

const (
	AppName          = "loki"
	ServerConfigName = "loki-server"
	EnvPrefix        = "LOKI"
	EnvConfigDir     = "LOKI_DIR"
)

// LoadServerConfig loads the server configuration, layering defaults,
// file contents, environment, and command-line overrides.
func LoadServerConfig(configPath string, cmdConf map[string]interface{}) (*ServerConfig, *config.Manager, error) {
	if configPath == "" {
		configPath = os.Getenv(EnvConfigDir)
	}

	scm, err := config.New(AppName, configPath, ServerConfigName, EnvPrefix, false)
	if err != nil {
		log.Error().Err(err).Msg("load server config failed")
		return nil, nil, err
	}

	conf := &ServerConfig{}
	config.SetDefaults(scm.Viper, ServerDefaults)
	for key, value := range cmdConf {
		if value != nil && value != "" {
			scm.Viper.Set(key, value)
		}
	}

	if err := scm.Load(conf); err != nil {
		log.Error().Err(err).Msg("load server config failed")
		return nil, nil, err
	}

	return conf, scm, nil
}
