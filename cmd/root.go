package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is shared by every command that loads the config. Empty means
// $CELLGRID_CONFIG, then the current directory.
var configPath string

var rootCmd = &cobra.Command{
	Use:           "cellgrid",
	Short:         "Plan and run grids of LLM tasks over documents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file or directory")
}
