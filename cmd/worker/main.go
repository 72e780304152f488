package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bulkmsg/internal/bootstrap"
	"bulkmsg/internal/config"
	"bulkmsg/internal/httpserver"
	"bulkmsg/internal/logging"
	"bulkmsg/internal/observability"
)

func main() {
	cfg, err := config.LoadWorker()
	logging.Init("worker", cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		slog.Error("worker config load failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := bootstrap.OpenStore(ctx, cfg.StoreConfig)
	if err != nil {
		slog.Error("worker store open failed", "err", err, "driver", cfg.StoreConfig.Driver)
		os.Exit(1)
	}
	defer st.Close()

	q, closeQueue, err := bootstrap.OpenQueue(ctx, cfg.QueueConfig)
	if err != nil {
		slog.Error("worker queue open failed", "err", err, "backend", cfg.QueueConfig.Backend)
		os.Exit(1)
	}
	defer closeQueue()

	observability.Register(prometheus.DefaultRegisterer)

	// health server (liveness + readiness + metrics)
	s := httpserver.New()
	s.RegisterHealth(
		httpserver.ReadyzCheck{Name: "store", Check: st.Ping},
		httpserver.ReadyzCheck{Name: "queue", Check: q.Ping},
	)
	healthSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	provider := bootstrap.NewProvider(cfg.TwilioConfig)
	runner := bootstrap.NewRunner(st, q, provider, cfg.QueueConfig)

	runErrCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting",
			"backend", cfg.QueueConfig.Backend,
			"stream", cfg.QueueConfig.Stream,
			"group", cfg.QueueConfig.Group,
			"consumer", cfg.QueueConfig.Consumer,
		)
		runErrCh <- runner.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("worker loop failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("worker health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("worker shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-runErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("worker shutdown timeout waiting for loop")
	}
}
