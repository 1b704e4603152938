package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cpboard/cpboard/internal/setup"
	"github.com/cpboard/cpboard/internal/worker/ratings"
	"github.com/cpboard/cpboard/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// WorkerLogDir specifies where worker log files are stored.
	WorkerLogDir = "logs/worker_logs"

	// RatingsWorker syncs ratings and solved counts on a schedule.
	RatingsWorker = "ratings"

	// OnceCommand performs a single sync run and exits.
	OnceCommand = "once"

	// restartDelay is how long a crashed worker waits before starting again.
	restartDelay = 5 * time.Second

	// shutdownTimeout bounds the metrics server shutdown.
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "worker",
		Usage: "Start the cpboard rating worker",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "auto-migrate",
				Usage: "Apply pending database migrations on startup",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Value: WorkerLogDir,
				Usage: "Directory for session log files",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  RatingsWorker,
				Usage: "Start the scheduled ratings sync loop",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "now",
						Usage: "Run a sync immediately instead of waiting for the next interval",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve Prometheus metrics on this address (overrides common.toml)",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runLoop(ctx, c.String("log-dir"), c.Bool("auto-migrate"), c.Bool("now"), c.String("metrics-addr"))
				},
			},
			{
				Name:  OnceCommand,
				Usage: "Run a single ratings sync and exit",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runOnce(ctx, c.String("log-dir"), c.Bool("auto-migrate"))
				},
			},
		},
	}

	return app.Run(ctx, os.Args)
}

// runOnce performs one sync run and prints its summary.
func runOnce(ctx context.Context, logDir string, autoMigrate bool) error {
	app, err := setup.InitializeApp(ctx, logDir, autoMigrate)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	logger := app.LogManager.GetWorkerLogger("ratings_once")
	w := ratings.New(app, logger)

	report, err := w.RunOnce(ctx)
	if err != nil {
		return err
	}

	log.Printf("Sync run %s for %s: %d entries, %d succeeded, %d failed in %s",
		report.RunID, utils.DateKey(report.Today), report.Total(), report.Succeeded(), report.Failed(),
		report.Duration().Round(time.Millisecond))

	for _, failure := range report.Failures() {
		log.Printf("  entry %d (%s/%s): %s: %v",
			failure.EntryID, failure.Platform, failure.Handle, failure.Outcome, failure.Err)
	}

	return nil
}

// runLoop starts the scheduled worker alongside the metrics endpoint.
func runLoop(ctx context.Context, logDir string, autoMigrate, runImmediately bool, metricsAddr string) error {
	app, err := setup.InitializeApp(ctx, logDir, autoMigrate)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup()

	logger := app.LogManager.GetWorkerLogger(RatingsWorker + "_worker")

	if metricsAddr == "" && app.Config.Common.Metrics.Enabled {
		metricsAddr = app.Config.Common.Metrics.Addr
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runWorker(ctx, ratings.New(app, logger), runImmediately, logger)
		return nil
	})

	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, metricsAddr, app.Metrics.Handler(), logger)
		})
	}

	log.Printf("Started %s worker", RatingsWorker)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Println("Worker has finished. Exiting.")

	return nil
}

// runWorker runs the worker until ctx ends, restarting it after a crash.
func runWorker(ctx context.Context, w *ratings.Worker, runImmediately bool, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping worker")
			return
		default:
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("Worker execution failed", zap.Any("panic", r))
						logger.Info("Restarting worker in 5 seconds...")
					}
				}()

				logger.Info("Starting worker")
				w.Start(ctx, runImmediately)
			}()

			if ctx.Err() != nil {
				continue
			}

			// Do not hammer upstreams right after a crash
			runImmediately = false

			utils.ContextSleep(ctx, restartDelay)
		}
	}
}

// serveMetrics exposes the Prometheus handler until ctx ends.
func serveMetrics(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down metrics server", zap.Error(err))
		}
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}
