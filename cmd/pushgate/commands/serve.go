package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MEKXH/pushgate/internal/config"
	"github.com/MEKXH/pushgate/internal/cron"
	"github.com/MEKXH/pushgate/internal/gateway"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Pushgate HTTP gateway",
		RunE:  runServer,
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := newPipeline(cfg, "")
	if err != nil {
		return err
	}

	cronService := cron.NewService()
	if _, err := cronService.AddJob("review-expiry", cfg.Review.SweepSchedule, func(context.Context) error {
		expired, err := p.reviews.ExpirePending()
		if err != nil {
			return err
		}
		if len(expired) > 0 {
			slog.Info("expired pending reviews", "count", len(expired))
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to schedule review expiry: %w", err)
	}
	cronService.Start(ctx)

	errCh := make(chan error, 1)
	gatewayServer := gateway.New(cfg.Gateway, p.chain, p.metrics)
	go func() {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("Pushgate running. Gateway: http://%s\nPress Ctrl+C to stop.\n", gatewayServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	cronService.Stop()
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}

	return runErr
}
