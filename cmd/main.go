// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/absmach/mbridge"
	"github.com/absmach/mbridge/examples/simple"
	"github.com/absmach/mbridge/pkg/dispatcher"
	"github.com/absmach/mbridge/pkg/handler"
	"github.com/absmach/mbridge/pkg/health"
	"github.com/absmach/mbridge/pkg/library/numeric"
	"github.com/absmach/mbridge/pkg/library/sequence"
	"github.com/absmach/mbridge/pkg/metrics"
	"github.com/absmach/mbridge/pkg/server/tcp"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultPort = 1337

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mbridge [port]",
		Short: "Line based TCP bridge to numeric and sequence operations",
		Long: "mbridge serves one TCP client at a time. Every request line\n" +
			"name;arg1;arg2... is answered with exactly one response line.\n\n" +
			"Settings are read from the environment, after loading a .env file\n" +
			"from the working directory if one exists:\n\n" +
			"  MBRIDGE_LOG_LEVEL         debug, info, warn or error (default info)\n" +
			"  MBRIDGE_LOG_FORMAT        json or text (default json)\n" +
			"  MBRIDGE_METRICS_ADDRESS   Prometheus listen address, empty disables\n" +
			"  MBRIDGE_HEALTH_ADDRESS    health check listen address, empty disables\n" +
			"  MBRIDGE_SHUTDOWN_TIMEOUT  grace period for the active session (default 30s)",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := defaultPort
			if len(args) == 1 {
				p, err := parsePort(args[0])
				if err != nil {
					return err
				}
				port = p
			}
			return run(cmd.Context(), port)
		},
	}

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newCommandsCmd())
	root.AddCommand(newCallCmd())

	return root
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %d: out of range", p)
	}
	return p, nil
}

func run(ctx context.Context, port int) error {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := mbridge.NewConfig(env.Options{Prefix: mbridge.EnvPrefix})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	d := dispatcher.New(numeric.Library{}, sequence.Library{})

	h := handler.Chain{simple.New(logger)}
	if cfg.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		h = append(h, metrics.NewHandler(metrics.New("mbridge", reg), nil))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", cfg.MetricsAddress, mux, logger)
		})
	}

	server := tcp.New(tcp.Config{
		Address:         net.JoinHostPort("", strconv.Itoa(port)),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, d, h)

	if cfg.HealthAddress != "" {
		checker := health.NewChecker(time.Second)
		checker.Register("listener", server.Ready)
		checker.Register("commands", func(ctx context.Context) error {
			if len(d.Commands()) == 0 {
				return errors.New("command table is empty")
			}
			return nil
		})
		g.Go(func() error {
			return serveHTTP(ctx, "health", cfg.HealthAddress, checker.Mux(), logger)
		})
	}

	g.Go(func() error {
		// The process is done once the bridge stops.
		defer cancel()
		return server.Listen(ctx)
	})

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("mBridge service terminated with error: %s", err))
		return err
	}
	logger.Info("mBridge service stopped")
	return nil
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// serveHTTP runs an auxiliary HTTP server until ctx is cancelled.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info(fmt.Sprintf("Starting %s server", name), slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// StopSignalHandler cancels the context on SIGINT or SIGTERM.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
