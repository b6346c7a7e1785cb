package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cellgrid/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify that the configuration is valid",
	Long: `Verify parses and validates the HCL configuration, starts every plugin
and prints what was found. Path can be a file or directory; it defaults to
--config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}
		defer cfg.Close()

		ok := color.New(color.FgGreen, color.Bold)
		warn := color.New(color.FgYellow)
		var warnings []string

		ok.Println("Configuration is valid!")

		fmt.Printf("Found %d model(s)\n", len(cfg.Models))
		for _, m := range cfg.Models {
			fmt.Printf("  - %s (provider: %s, models: %v)\n", m.Name, m.Provider, m.AllowedModels)
		}

		fmt.Printf("Found %d variable(s)\n", len(cfg.Variables))
		for _, v := range cfg.Variables {
			resolved, _ := config.ResolveVariableValue(&v)
			switch {
			case resolved == "":
				fmt.Printf("  - %s (not set)\n", v.Name)
				warnings = append(warnings, fmt.Sprintf("variable '%s' has no default and no value set", v.Name))
			case v.Secret:
				fmt.Printf("  - %s (secret, set)\n", v.Name)
			default:
				fmt.Printf("  - %s = %q\n", v.Name, resolved)
			}
		}

		fmt.Printf("Found %d plugin(s)\n", len(cfg.Plugins))
		for _, p := range cfg.Plugins {
			pc, loaded := cfg.LoadedPlugins[p.Name]
			if !loaded {
				fmt.Printf("  - %s (NOT LOADED)\n", p.Name)
				continue
			}
			infos, err := pc.ListTools()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("plugin '%s': %v", p.Name, err))
				continue
			}
			names := make([]string, len(infos))
			for i, info := range infos {
				names[i] = info.Name
			}
			sort.Strings(names)
			fmt.Printf("  - %s (tools: %v)\n", p.Name, names)
		}

		fmt.Println("Limiters")
		for _, name := range []string{config.LimiterCells, config.LimiterSections} {
			l := cfg.Limiter(name)
			timeout := l.QueueTimeout
			if timeout == "" {
				timeout = "none"
			}
			fmt.Printf("  - %s (width: %d, queue timeout: %s)\n", name, l.Width, timeout)
		}

		fmt.Printf("Engine: iteration cap %d, run budget %s\n", cfg.Engine.IterationCap, cfg.Engine.RunBudget)
		if cfg.Planner != nil {
			fmt.Printf("Planner: %s (tasks default to %s)\n", cfg.Planner.Model, cfg.Planner.DefaultModel)
		} else {
			fmt.Println("Planner: none (only saved plans can be run)")
		}
		fmt.Printf("Storage: %s\n", cfg.Storage.Backend)
		fmt.Printf("Server: %s (origins: %v)\n", cfg.Server.Listen, cfg.Server.AllowedOrigins)

		warnings = append(warnings, cfg.PluginWarnings...)
		if len(warnings) > 0 {
			warn.Println("\nWarnings:")
			for _, w := range warnings {
				warn.Printf("  - %s\n", w)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
