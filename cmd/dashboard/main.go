package main

import (
	"context"
	"os/signal"
	"syscall"

	"tradedash/config"
	"tradedash/internal/dashboard/session"
	"tradedash/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := session.New(cfg, log)
	if err != nil {
		log.Fatal("invalid session config", zap.Error(err))
	}

	// run dashboard session
	if err := s.Start(ctx); err != nil {
		log.Fatal("session failed to start", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("shutting down")
	if err := s.Close(); err != nil {
		log.Error("session close failed", zap.Error(err))
	}
}
