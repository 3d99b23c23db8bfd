package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/clock/system"
	"github.com/bseorders/orderwatch/internal/logging"
	"github.com/bseorders/orderwatch/internal/stub"
)

func newStubCmd() *cobra.Command {
	var (
		addr        string
		apiKey      string
		jobDuration time.Duration
		resultsLag  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve a local simulation of the scrape backend",
		Long: `Runs an in-memory stand-in for the scrape service speaking the same
HTTP contract, with jobs that progress on a timer. Useful for local
development and end-to-end testing of the client.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStub(cmd.Context(), addr, stub.Config{
				APIKey:      apiKey,
				JobDuration: jobDuration,
				ResultsLag:  resultsLag,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "require this X-API-Key header when set")
	cmd.Flags().DurationVar(&jobDuration, "job-duration", 10*time.Second, "how long a simulated scrape runs")
	cmd.Flags().DurationVar(&resultsLag, "results-lag", 0, "delay between job completion and results availability")
	return cmd
}

func runStub(parent context.Context, addr string, cfg stub.Config) error {
	// The stub has no backend to locate, so it skips the full config
	// load and takes everything from flags.
	logger, err := logging.New(true)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := stub.NewServer(cfg, system.New(), logger.Named("stub"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stub server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("stub server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stub shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
