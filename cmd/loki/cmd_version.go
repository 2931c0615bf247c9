package loki

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lokiorch/loki/pkg/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of loki",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}
