package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/daily-brief/internal/config"
	httphandler "github.com/kjstillabower/daily-brief/internal/http"
	"github.com/kjstillabower/daily-brief/internal/lifecycle"
	"github.com/kjstillabower/daily-brief/internal/observability"
	"github.com/kjstillabower/daily-brief/internal/preset"
)

// In-flight drain settings used after the server stops accepting requests.
const (
	inFlightTimeout       = 10 * time.Second
	inFlightCheckInterval = 100 * time.Millisecond
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := newRootCommand(logger, config.Load).Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)

func newRootCommand(logger *zap.Logger, load configLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "dailybrief",
		Short:         "Daily Brief weather, locations and countdowns service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(logger, load),
		newParamsCommand(logger, load),
		newBriefCommand(logger, load),
	)
	return root
}

func newServeCommand(logger *zap.Logger, load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// newParamsCommand prints the Open-Meteo query a preset produces. Without
// --preset the saved preset is used.
func newParamsCommand(logger *zap.Logger, load configLoader) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Print the forecast query parameters for a preset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p preset.WeatherPreset
			if name != "" {
				named, ok := preset.Lookup(name)
				if !ok {
					return fmt.Errorf("%w: %q (known: %v)", preset.ErrUnknownPreset, name, preset.Names())
				}
				p = named
			} else {
				cfg, err := load()
				if err != nil {
					return fmt.Errorf("config: %w", err)
				}
				ctx := cmd.Context()
				kv, err := openStore(ctx, cfg)
				if err != nil {
					return err
				}
				defer kv.Close()
				p = preset.NewStore(ctx, kv, logger).Get()
			}
			return printJSON(cmd.OutOrStdout(), httphandler.ParamsFor(p))
		},
	}
	cmd.Flags().StringVar(&name, "preset", "", "named preset (standard, minimal, complete)")
	return cmd
}

// newBriefCommand composes one brief from the saved state and prints it.
func newBriefCommand(logger *zap.Logger, load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "brief",
		Short: "Print today's brief",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			b, err := a.brief.Build(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("build brief: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runPeriodic runs a periodic job until ctx ends. Cancellation is a normal
// stop; any other error is logged.
func runPeriodic(ctx context.Context, run func(context.Context, time.Duration) error, interval time.Duration, logger *zap.Logger) {
	if err := run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("periodic refresh stopped", zap.Error(err))
	}
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	handler := httphandler.NewHandler(a.deps(cfg))
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	refreshCtx, refreshCancel := context.WithCancel(ctx)
	defer refreshCancel()
	if cfg.RefreshInterval > 0 {
		go runPeriodic(refreshCtx, a.refresher.RefreshPeriodic, cfg.RefreshInterval, logger)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	readyTimer := time.AfterFunc(cfg.ReadyDelay, func() {
		lifecycle.MarkReady()
		logger.Info("service ready")
	})
	defer readyTimer.Stop()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server: %w", err)
	}
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	refreshCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), inFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
