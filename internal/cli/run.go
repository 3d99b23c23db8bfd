package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bseorders/orderwatch/internal/clock/system"
	"github.com/bseorders/orderwatch/internal/coordinator"
	"github.com/bseorders/orderwatch/internal/jobclient"
	"github.com/bseorders/orderwatch/internal/metrics"
	"github.com/bseorders/orderwatch/internal/poll"
	"github.com/bseorders/orderwatch/internal/progress/sinks"
	"github.com/bseorders/orderwatch/internal/runner"
	"github.com/bseorders/orderwatch/internal/scrape"
	"github.com/bseorders/orderwatch/internal/transport"
)

func newRunCmd() *cobra.Command {
	var (
		date       string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an order-award analysis for a trading date",
		Long: `Starts a scrape job for the given date (default today), polls it to
completion, and prints the detected order awards. Ctrl-C requests a
best-effort stop of the remote job before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalysis(cmd.Context(), date, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target trading date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw result payload as JSON")
	return cmd
}

func runAnalysis(parent context.Context, date string, jsonOutput bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	clock := system.New()
	if date == "" {
		date = clock.Now().Format("2006-01-02")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	sender := transport.New(transport.Config{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.Key,
		Timeout: cfg.RequestTimeout(),
	}, logger.Named("transport"))
	coord := coordinator.New(sender, coordinator.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.BackoffBase(),
	}, logger.Named("coordinator"))
	client := jobclient.New(coord, clock, logger.Named("jobclient"))

	run := runner.New(client, poll.Config{
		Interval: cfg.PollInterval(),
		Jitter:   cfg.PollJitter(),
		MaxTicks: cfg.Poll.MaxTicks,
	}, clock, logger,
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewPrometheusSink(),
	)

	// A failing health check means degraded service, not a hard stop.
	if health, err := run.CheckHealth(ctx); err != nil {
		logger.Warn("backend health check failed, continuing anyway", zap.Error(err))
	} else {
		logger.Info("backend healthy", zap.String("status", health.Status))
	}

	// Ctrl-C cancels the run and asks the server to stop the job.
	go func() {
		<-ctx.Done()
		run.Cancel()
	}()

	results, err := run.RunAnalysis(ctx, date, nil)
	if err != nil {
		return fmt.Errorf("analysis for %s: %w", date, err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		return nil
	}
	printSummary(results)
	return nil
}

func printSummary(res *scrape.ResultSet) {
	fmt.Printf("Date: %s\n", res.Date)
	fmt.Printf("Announcements scanned: %d\n", res.TotalAnnouncements)
	fmt.Printf("Order awards detected: %d\n", res.TotalAwards)
	fmt.Printf("Total value: Rs. %.2f crores\n", res.TotalValueCrores)
	if res.Statistics != nil {
		fmt.Printf("Value buckets: high=%d medium=%d low=%d none=%d\n",
			res.Statistics.HighValueCount,
			res.Statistics.MediumValueCount,
			res.Statistics.LowValueCount,
			res.Statistics.NoValueCount,
		)
	}
	for _, order := range res.Orders {
		fmt.Printf("\n%s: %s\n", order.Company, order.Title)
		if order.Summary != "" {
			fmt.Printf("  %s\n", order.Summary)
		}
		for _, v := range order.OrderValues {
			fmt.Printf("  value: %s\n", v.Formatted)
		}
		if order.PDFLink != "" {
			fmt.Printf("  pdf: %s\n", order.PDFLink)
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics listener error", zap.Error(err))
	}
}
