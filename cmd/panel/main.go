package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/op/go-logging"

	"go-report-download-panel/internal/config"
	httpapi "go-report-download-panel/internal/http"
)

var version = "dev"

var log = logging.MustGetLogger("panel")

func main() {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:2006-01-02 15:04:05} %{level:.4s} %{module} %{message}`)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))

	cfg := config.FromEnv()
	srv, err := httpapi.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-stop
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	log.Infof("starting panel version=%s on %s", version, cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		log.Fatal(err)
	}
}
