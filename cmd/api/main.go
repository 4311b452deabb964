package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"fleetroute/internal/api"
	"fleetroute/internal/buildinfo"
	"fleetroute/internal/config"
	"fleetroute/internal/jobs"
	"fleetroute/internal/logging"
	"fleetroute/internal/metrics"
	"fleetroute/internal/webhooks"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "fleetroute:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Error(err, "close server resources")
		}
	}()

	runs := jobs.NewWorker(srv.Store, srv.Broker, log)
	runs.Defaults = srv.Defaults
	runs.Concurrency = cfg.Workers
	runs.Interval = cfg.PollInterval
	runs.MaxTimeLimit = cfg.MaxTimeLimit
	runs.Start()

	callbacks := webhooks.NewWorker(srv.Store, log)
	callbacks.MaxAttempts = cfg.CallbackMaxAttempts
	callbacks.Start()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", cfg.Addr, "version", buildinfo.Version, "workers", cfg.Workers)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "http shutdown")
	}
	// in-flight runs are cancelled and recorded with their best solution so far
	close(runs.Stop)
	runs.Wait()
	close(callbacks.Stop)
	return nil
}
