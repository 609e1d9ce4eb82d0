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

	"golang.org/x/sync/errgroup"

	"streetlamp/internal/config"
	"streetlamp/internal/demo"
	"streetlamp/internal/httpapi"
	"streetlamp/internal/logging"
	"streetlamp/internal/metrics"
	"streetlamp/internal/notify"
	"streetlamp/internal/relay"
	"streetlamp/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("lamp client failed: %v", err)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	var backend session.Relay
	if cfg.DemoMode {
		logger.Info("demo_mode", "reason", "LAMP_RELAY_URL is not set")
		backend = demo.NewRelay()
	} else {
		backend = relay.NewClient(cfg.RelayURL, cfg.RelayTimeout)
	}

	var notifier session.Notifier = notify.NewLog(logger.Logger)
	if cfg.Mailgun.Enabled() {
		notifier = notify.NewMailgun(cfg.Mailgun, logger.Logger)
	}

	m := metrics.NewClient()
	svc := session.New(backend, session.Config{
		PollInterval:   cfg.PollInterval,
		StaleThreshold: cfg.StaleThreshold,
	}, session.Options{
		Notifier: notifier,
		Recorder: m,
		Logger:   logger.Logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.NotificationToken != "" {
		if err := svc.RegisterToken(ctx, cfg.NotificationToken); err != nil {
			logger.Warn("startup_token_failed", "error", err)
		}
	}

	svc.Start(ctx)
	defer svc.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      httpapi.New(svc, cfg.PollInterval, m.Handler(), logger.Logger),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("client_listening", "addr", cfg.HTTPListenAddr, "relay", cfg.RelayURL, "demo", cfg.DemoMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown_error", "error", err)
		}
		return nil
	})

	return g.Wait()
}
