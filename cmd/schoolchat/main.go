// Command schoolchat runs the real-time messaging service: the socket
// endpoint, the /api/v1 REST boundary and the background workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"schoolchat/internal/app"
	"schoolchat/internal/config"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "schoolchat:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log)

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to create application")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "addr", cfg.HTTP.Address(), "notifications", cfg.Notifications.Backend)
	if err := application.Run(ctx); err != nil {
		return errors.Wrap(err, "application error")
	}
	logger.Info("shutdown_complete")
	return nil
}
