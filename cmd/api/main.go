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
	"bulkmsg/internal/service"
)

func main() {
	cfg, err := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		slog.Error("api config load failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := bootstrap.OpenStore(ctx, cfg.StoreConfig)
	if err != nil {
		slog.Error("api store open failed", "err", err, "driver", cfg.StoreConfig.Driver)
		os.Exit(1)
	}
	defer st.Close()

	q, closeQueue, err := bootstrap.OpenQueue(ctx, cfg.QueueConfig)
	if err != nil {
		slog.Error("api queue open failed", "err", err, "backend", cfg.QueueConfig.Backend)
		os.Exit(1)
	}
	defer closeQueue()

	observability.Register(prometheus.DefaultRegisterer)

	provider := bootstrap.NewProvider(cfg.TwilioConfig)
	svc := &service.CampaignService{Store: st, Queue: q}

	s := httpserver.New()
	(&httpserver.API{Svc: svc}).Register(s.Mux)
	bootstrap.NewWebhook(st, provider, cfg.TwilioConfig).Register(s.Mux)
	s.RegisterHealth(
		httpserver.ReadyzCheck{Name: "store", Check: st.Ping},
		httpserver.ReadyzCheck{Name: "queue", Check: q.Ping},
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerDone := make(chan struct{})
	if cfg.EnableWorker {
		runner := bootstrap.NewRunner(st, q, provider, cfg.QueueConfig)
		go func() {
			defer close(workerDone)
			slog.Info("api running delivery worker in-process", "consumer", cfg.QueueConfig.Consumer)
			if err := runner.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("in-process worker stopped", "err", err)
			}
		}()
	} else {
		close(workerDone)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port, "queue", cfg.QueueConfig.Backend, "store", cfg.StoreConfig.Driver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		cancel()
		<-workerDone
		os.Exit(1)
	}

	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		slog.Info("api shutdown timeout waiting for worker")
	}
}
