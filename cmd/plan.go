package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cellgrid/engine"
	"cellgrid/planner"
	"cellgrid/streamers/cli"
)

var (
	planTargetsPath string
	planOutput      string
)

var planCmd = &cobra.Command{
	Use:   "plan <request>",
	Short: "Ask the planner for a plan and save it",
	Long: `Plan sends the request and the target list to the planner model and
writes the resulting plan to a YAML (or .json) file. Edit the file, then run
it with 'cellgrid run --plan'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := planner.LoadTargets(planTargetsPath)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.engine.SubmitPlan(ctx, strings.Join(args, " "), targets)
		if errors.Is(err, engine.ErrNoPlanner) {
			return fmt.Errorf("no planner block in config")
		}
		if err != nil {
			return err
		}

		cli.NewGridHandler(os.Stdout, false).PlanReady(plan, len(targets))
		if err := planner.SaveFile(planOutput, plan); err != nil {
			return err
		}
		fmt.Printf("Plan written to %s\n", planOutput)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringVarP(&planTargetsPath, "targets", "t", "targets.yaml", "YAML or JSON file listing the targets")
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "plan.yaml", "Where to write the plan")
}
