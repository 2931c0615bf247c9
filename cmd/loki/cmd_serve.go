package loki

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lokiorch/loki/internal/loki"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "server address")
	serveCmd.Flags().StringVarP(&serveProjectRoot, "project-root", "r", "", "project root")
	serveCmd.Flags().StringVarP(&serveWorkDir, "work-dir", "w", "", "work dir")
}

var (
	serveAddr        string
	serveProjectRoot string
	serveWorkDir     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP/SSE server",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := loki.New(ConfigPath, serveOverrides())
		if err != nil {
			log.Err(err).Msg("failed to create loki instance")
			return
		}
		if err := app.RunHTTP(); err != nil {
			log.Err(err).Msg("failed to start server")
			return
		}
	},
}

func serveOverrides() map[string]interface{} {
	overrides := map[string]interface{}{}
	if serveAddr != "" {
		overrides["http_addr"] = serveAddr
	}
	if serveProjectRoot != "" {
		overrides["project_root"] = serveProjectRoot
	}
	if serveWorkDir != "" {
		overrides["work_dir"] = serveWorkDir
	}
	return overrides
}
