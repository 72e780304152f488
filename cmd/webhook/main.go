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
	cfg, err := config.LoadWebhook()
	logging.Init("webhook", cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		slog.Error("webhook config load failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := bootstrap.OpenStore(ctx, cfg.StoreConfig)
	if err != nil {
		slog.Error("webhook store open failed", "err", err, "driver", cfg.StoreConfig.Driver)
		os.Exit(1)
	}
	defer st.Close()

	observability.Register(prometheus.DefaultRegisterer)

	s := httpserver.New()
	bootstrap.NewWebhook(st, bootstrap.NewProvider(cfg.TwilioConfig), cfg.TwilioConfig).Register(s.Mux)
	s.RegisterHealth(httpserver.ReadyzCheck{Name: "store", Check: st.Ping})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port, "verify_signature", cfg.TwilioConfig.VerifySignature)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
}
