package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cellgrid/planner"
	"cellgrid/streamers/cli"
	"cellgrid/task"
)

var (
	runTargetsPath string
	runPlanPath    string
	runSavePlan    string
	runCollection  string
	runResume      string
	runBudget      time.Duration
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Populate a collection and run every pending cell",
	Long: `Run builds a collection from a saved plan (--plan) or from a fresh planner
call over the request, then runs every pending cell within the budget.

With --resume it reloads a stored collection instead and runs the cells that
are still pending.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		handler := cli.NewGridHandler(os.Stdout, runVerbose)

		var c *task.Collection
		if runResume != "" {
			if c, err = a.engine.Restore(ctx, runResume); err != nil {
				return err
			}
		} else {
			if c, err = populate(ctx, a, handler, strings.Join(args, " ")); err != nil {
				return err
			}
		}

		stopStream := a.engine.Stream(c.ID, handler)
		handler.RunStarted(c.ID, c.Progress().Pending)
		report, err := a.engine.RunPlan(ctx, c.ID, runBudget)
		stopStream()
		if report != nil {
			handler.RunFinished(c.ID, report.Summary())
		}
		if err != nil {
			return err
		}

		if a.cfg.Storage.Backend != "memory" {
			fmt.Printf("\nCollection %s is stored (%s); resume it with --resume %s\n", c.ID, a.cfg.Storage.Backend, c.ID)
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d cell(s) failed", report.Failed)
		}
		return nil
	},
}

// populate builds the collection from --plan or from a planner call.
func populate(ctx context.Context, a *app, handler *cli.GridHandler, request string) (*task.Collection, error) {
	targets, err := planner.LoadTargets(runTargetsPath)
	if err != nil {
		return nil, err
	}

	var plan *task.Plan
	switch {
	case runPlanPath != "":
		if plan, err = planner.LoadFile(runPlanPath); err != nil {
			return nil, err
		}
	case request != "":
		if plan, err = a.engine.SubmitPlan(ctx, request, targets); err != nil {
			return nil, err
		}
		if runSavePlan != "" {
			if err := planner.SaveFile(runSavePlan, plan); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("give a request, --plan or --resume")
	}

	handler.PlanReady(plan, len(targets))
	return a.engine.Populate(runCollection, plan, targets)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTargetsPath, "targets", "t", "targets.yaml", "YAML or JSON file listing the targets")
	runCmd.Flags().StringVarP(&runPlanPath, "plan", "p", "", "Run a saved plan instead of calling the planner")
	runCmd.Flags().StringVar(&runSavePlan, "save-plan", "", "Also write the planner's plan to this file")
	runCmd.Flags().StringVar(&runCollection, "collection", "", "Collection id (generated when empty)")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume a stored collection by id")
	runCmd.Flags().DurationVarP(&runBudget, "budget", "b", 0, "Wall-clock budget for the run (default from the engine block)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show model turns and tool calls")
}
