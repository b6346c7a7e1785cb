package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cellgrid/scheduler"
	"cellgrid/wsbridge"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve collections over HTTP and stream progress over WebSocket",
	Long: `Serve restores every stored collection and exposes the engine over HTTP.
Clients create collections with POST /plans, run them with
POST /collections/{id}/run and follow progress on /ws.

The listen address and allowed origins come from the server block.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.engine.RestoreAll(ctx)
		if err != nil {
			return fmt.Errorf("restore collections: %w", err)
		}
		a.logger.Info("collections restored", "count", n, "backend", a.cfg.Storage.Backend)

		srv, err := wsbridge.NewServer(wsbridge.Options{
			Engine:         a.engine,
			Limiters:       []*scheduler.Limiter{a.cells, a.sections},
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
			Logger:         a.logger,
		})
		if err != nil {
			return err
		}

		listen := a.cfg.Server.Listen
		if serveListen != "" {
			listen = serveListen
		}
		fmt.Printf("Serving on http://%s\n", listen)
		if err := srv.ListenAndServe(ctx, listen); err != nil {
			return err
		}
		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides the server block)")
}
