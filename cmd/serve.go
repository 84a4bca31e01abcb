package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trip-installments/internal/wire"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var withoutPoller bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API and the background poller",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withoutPoller, "no-poller", false, "serve the API only; another process runs the poller")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	// Wire all dependencies
	application, err := wire.Wiring(a.service, a.poller, a.rdb, a.config, a.logger)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.App.Port))
		return APIServer(ctx, application.Router, a.config.App.Port, a.logger)
	})

	if !withoutPoller {
		g.Go(func() error {
			a.logger.Info("Starting poller", zap.Duration("interval", a.config.Poller.Interval))
			return a.poller.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("Shutdown complete")
	return nil
}
