package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.Long = fmt.Sprintf(`cellgrid %s

Fills a grid of targets by tasks with AI agents. A planner model turns a
request into task columns, and every cell runs as its own bounded agent
call under shared concurrency limits.

Get started:
  cellgrid verify             Validate your configuration
  cellgrid plan <request>     Draft a plan into plan.yaml
  cellgrid run --plan FILE    Run a saved plan over targets.yaml
  cellgrid serve              Serve collections over HTTP and WebSocket`, Version)
}
