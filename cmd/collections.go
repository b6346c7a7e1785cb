package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cellgrid/store"
	"cellgrid/task"
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"ls"},
	Short:   "List stored collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.StateStore) error {
			infos, err := st.ListCollections(ctx)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No stored collections")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tTARGETS\tTASKS\tUPDATED")
			for _, c := range infos {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", c.ID, c.Title, c.TargetCount, c.TaskCount, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var collectionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored collection as a grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.StateStore) error {
			c, err := st.LoadCollection(ctx, args[0])
			if err != nil {
				return err
			}
			printGrid(c)
			return nil
		})
	},
}

// withStore opens only the configured store, without models or plugins.
func withStore(fn func(context.Context, store.StateStore) error) error {
	ctx := context.Background()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer cfg.Close()
	st, err := store.NewStateStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

func printGrid(c *task.Collection) {
	fmt.Printf("%s  %s\n", c.ID, c.Title)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "TARGET")
	for _, def := range c.Tasks {
		name := def.Name
		if name == "" {
			name = def.ID
		}
		fmt.Fprintf(w, "\t%s", name)
	}
	fmt.Fprintln(w)
	for _, target := range c.Targets {
		fmt.Fprint(w, target.ID)
		for _, def := range c.Tasks {
			st, ok := c.State(task.Key{Target: target.ID, TaskID: def.ID})
			fmt.Fprintf(w, "\t%s", cellText(st, ok))
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	p := c.Progress()
	fmt.Printf("\n%d/%d complete, %d failed, %d pending\n", p.Complete, p.Total, p.Error, p.Pending)
}

func cellText(st task.State, ok bool) string {
	switch {
	case !ok:
		return "-"
	case st.Status == task.StatusComplete:
		return truncateCell(st.Result, 32)
	case st.Status == task.StatusError:
		return "error"
	default:
		return string(st.Status)
	}
}

func truncateCell(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsShowCmd)
}
