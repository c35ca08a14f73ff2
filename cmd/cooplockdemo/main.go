package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/slon/cooplock/asyncqueue"
	"github.com/slon/cooplock/rwlock"
)

var opts = struct {
	addr           string
	readers        int
	writers        int
	upgradeables   int
	producers      int
	consumers      int
	holdDuration   time.Duration
	actionInterval time.Duration
	streamInterval time.Duration
}{}

var rootCmd = &cobra.Command{
	Use:   "cooplockdemo",
	Short: "Runs a load generator exercising rwlock.Lock and asyncqueue.Queue, with a debug HTTP surface.",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&opts.addr, "addr", ":8080", "address to serve the debug HTTP surface on")
	flags.IntVar(&opts.readers, "readers", 4, "number of reader goroutines against the lock")
	flags.IntVar(&opts.writers, "writers", 1, "number of writer goroutines against the lock")
	flags.IntVar(&opts.upgradeables, "upgradeables", 1, "number of upgradeable-reader goroutines against the lock")
	flags.IntVar(&opts.producers, "producers", 2, "number of producer goroutines against the queue")
	flags.IntVar(&opts.consumers, "consumers", 2, "number of consumer goroutines against the queue")
	flags.DurationVar(&opts.holdDuration, "hold", 20*time.Millisecond, "how long a role holds the lock once acquired")
	flags.DurationVar(&opts.actionInterval, "interval", 100*time.Millisecond, "pace between one workload goroutine's actions")
	flags.DurationVar(&opts.streamInterval, "stream-interval", time.Second, "push interval for /debug/stream")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	lockMetrics := rwlock.NewMetrics(reg)
	queueMetrics := asyncqueue.NewMetrics(reg)

	lock := rwlock.New(rwlock.WithLogger(logger), rwlock.WithMetrics(lockMetrics))
	queue := asyncqueue.New[int](nil, asyncqueue.WithLogger[int](logger), asyncqueue.WithMetrics[int](queueMetrics))

	clock := clockwork.NewRealClock()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workload := &Workload{
		Lock:          lock,
		Queue:         queue,
		Readers:       opts.readers,
		Writers:       opts.writers,
		Upgradeables:  opts.upgradeables,
		Producers:     opts.producers,
		Consumers:     opts.consumers,
		HoldDuration:  opts.holdDuration,
		PacePerAction: opts.actionInterval,
		Clock:         clock,
		Logger:        logger,
	}
	go workload.Run(ctx)

	srv := &http.Server{
		Addr:         opts.addr,
		Handler:      newRouter(lock, queue, reg, clock, opts.streamInterval, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting cooplockdemo server", "addr", opts.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
