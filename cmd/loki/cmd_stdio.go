package loki

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lokiorch/loki/internal/loki"
)

func init() {
	rootCmd.AddCommand(stdioCmd)
	stdioCmd.Flags().StringVarP(&stdioProjectRoot, "project-root", "r", "", "project root")
}

var stdioProjectRoot string

var stdioCmd = &cobra.Command{
	Use:    "stdio",
	Short:  "Serve JSON-RPC on stdin/stdout",
	PreRun: initStdioLog,
	Run: func(cmd *cobra.Command, args []string) {
		overrides := map[string]interface{}{}
		if stdioProjectRoot != "" {
			overrides["project_root"] = stdioProjectRoot
		}
		app, err := loki.New(ConfigPath, overrides)
		if err != nil {
			log.Err(err).Msg("failed to create loki instance")
			return
		}
		if err := app.RunStdio(context.Background()); err != nil {
			log.Err(err).Msg("stdio transport stopped")
			return
		}
	},
}
