// Command mock-provider imitates the Twilio Messages API for local runs: it accepts
// sends, answers with a scripted outcome and posts signed status callbacks.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"bulkmsg/internal/config"
	"bulkmsg/internal/httpserver"
	"bulkmsg/internal/logging"
)

func main() {
	cfg, err := config.LoadMockProvider()
	logging.Init("mock-provider", cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		slog.Error("mock provider config load failed", "err", err)
		os.Exit(1)
	}

	r := mux.NewRouter()
	newMockProvider(cfg).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.Logging(r),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	slog.Info("mock provider listening", "port", cfg.Port, "outcomes", cfg.Outcomes)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}
