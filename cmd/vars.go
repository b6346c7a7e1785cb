package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cellgrid/config"
)

var varsCmd = &cobra.Command{
	Use:   "vars",
	Short: "Manage variables",
	Long: `Manage the variables stored in ~/.cellgrid/vars.txt.

A CELLGRID_VAR_<name> environment variable takes precedence over the file.`,
}

var varsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		vars, err := config.LoadVarsFromFile()
		if err != nil {
			return err
		}
		names, err := config.ListVars()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No variables set")
			return nil
		}
		for _, name := range names {
			value := vars[name]
			if looksSecret(name) {
				value = "********"
			}
			if _, ok := os.LookupEnv(config.VarEnvPrefix + name); ok {
				value += " (overridden by " + config.VarEnvPrefix + name + ")"
			}
			fmt.Printf("%s=%s\n", name, value)
		}
		return nil
	},
}

// looksSecret masks values whose names read like credentials.
func looksSecret(name string) bool {
	name = strings.ToLower(name)
	for _, suffix := range []string{"_key", "_token", "_secret", "_password", "_dsn"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

var varsGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a stored variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := config.GetVar(args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var varsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store a variable",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetVar(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Variable '%s' set\n", args[0])
		return nil
	},
}

var varsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a stored variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteVar(args[0]); err != nil {
			return err
		}
		fmt.Printf("Variable '%s' deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(varsCmd)
	varsCmd.AddCommand(varsListCmd, varsGetCmd, varsSetCmd, varsDeleteCmd)
}
