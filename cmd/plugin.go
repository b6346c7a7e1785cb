package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"cellgrid/aitools"
	"cellgrid/plugin"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Plugin management commands",
	Long:  `Commands for building and trying out tool plugins.`,
}

// loadPluginFlags starts the plugin named on the command line, honoring
// --version and --path.
func loadPluginFlags(cmd *cobra.Command, name string) (*plugin.PluginClient, error) {
	version, _ := cmd.Flags().GetString("version")
	path, _ := cmd.Flags().GetString("path")
	p, err := plugin.LoadPlugin(name, version, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin: %w", err)
	}
	return p, nil
}

var pluginCallCmd = &cobra.Command{
	Use:   "call <plugin-name> <tool-name> [json-args]",
	Short: "Call a tool on a plugin",
	Long:  `Call a tool on a plugin with an optional JSON object of arguments.`,
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPluginFlags(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		callArgs := map[string]any{}
		if len(args) > 2 {
			if err := json.Unmarshal([]byte(args[2]), &callArgs); err != nil {
				return fmt.Errorf("arguments must be a JSON object: %w", err)
			}
		}

		tools, err := p.Tools()
		if err != nil {
			return err
		}
		for _, t := range tools {
			if t.ToolName() != args[1] {
				continue
			}
			result, err := t.Call(cmd.Context(), callArgs, aitools.ToolContext{})
			if err != nil {
				return fmt.Errorf("plugin call failed: %w", err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		return fmt.Errorf("plugin '%s' has no tool '%s'", args[0], args[1])
	},
}

var pluginToolsCmd = &cobra.Command{
	Use:   "tools <plugin-name>",
	Short: "List the tools a plugin provides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPluginFlags(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		infos, err := p.ListTools()
		if err != nil {
			return fmt.Errorf("failed to list tools: %w", err)
		}
		showSchema, _ := cmd.Flags().GetBool("schema")

		fmt.Printf("Tools of plugin '%s':\n", args[0])
		for _, info := range infos {
			fmt.Printf("  - %s: %s\n", info.Name, info.Description)
			if showSchema {
				fmt.Printf("    schema: %s\n", info.Schema.String())
			}
		}
		return nil
	},
}

var pluginBuildCmd = &cobra.Command{
	Use:   "build <plugin-name> <source-path>",
	Short: "Build a plugin from source",
	Long:  `Build a plugin from a Go source directory and install it to ~/.cellgrid/plugins/<name>/<version>/plugin`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		version, _ := cmd.Flags().GetString("version")

		src, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("failed to resolve source path: %w", err)
		}
		if _, err := os.Stat(src); os.IsNotExist(err) {
			return fmt.Errorf("source path does not exist: %s", src)
		}

		out, err := plugin.GetPluginPath(name, version)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return fmt.Errorf("failed to create plugin directory: %w", err)
		}

		fmt.Printf("Building plugin '%s' (version: %s)...\n", name, version)
		fmt.Printf("  Source: %s\n", src)
		fmt.Printf("  Output: %s\n", out)

		build := exec.Command("go", "build", "-o", out, src)
		build.Stdout = os.Stdout
		build.Stderr = os.Stderr
		if err := build.Run(); err != nil {
			return fmt.Errorf("build failed: %w", err)
		}

		fmt.Printf("Plugin '%s' built\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginCallCmd)
	pluginCmd.AddCommand(pluginToolsCmd)
	pluginCmd.AddCommand(pluginBuildCmd)

	for _, c := range []*cobra.Command{pluginCallCmd, pluginToolsCmd} {
		c.Flags().String("version", "local", "Installed plugin version to use")
		c.Flags().String("path", "", "Run the plugin executable at this path instead")
	}
	pluginToolsCmd.Flags().Bool("schema", false, "Print each tool's argument schema")
	pluginBuildCmd.Flags().String("version", "local", "Plugin version to install as")
}
