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
	"streetlamp/internal/events"
	"streetlamp/internal/logging"
	"streetlamp/internal/metrics"
	"streetlamp/internal/push"
	"streetlamp/internal/relayapi"
	"streetlamp/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("lamp relay failed: %v", err)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadRelay()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		st     store.Store
		pusher push.Pusher
	)
	if cfg.FirebaseDBURL != "" {
		app, err := store.OpenApp(ctx, cfg.FirebaseDBURL, cfg.CredentialsFile)
		if err != nil {
			return err
		}
		fb, err := store.NewFirebase(ctx, app, cfg.StatePath, cfg.TokensPath)
		if err != nil {
			return err
		}
		msg, err := app.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("open messaging: %w", err)
		}
		st, pusher = fb, push.NewFCM(msg, logger.Logger)
		logger.Info("store_selected", "backend", "firebase", "state_path", cfg.StatePath)
	} else {
		st, pusher = store.NewMemory(), push.NewLog(logger.Logger)
		logger.Info("store_selected", "backend", "memory", "reason", "FIREBASE_DB_URL is not set")
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("command_events_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	api := relayapi.New(st, relayapi.Options{
		Pusher:      pusher,
		Events:      publisher,
		Metrics:     metrics.NewRelay(),
		Logger:      logger.Logger,
		AccessLog:   logger.Writer(),
		PushTimeout: cfg.PushTimeout,
	})
	defer api.Wait()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay_listening", "addr", cfg.ListenAddr)
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
