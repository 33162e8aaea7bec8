package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	consumerconfig "faucet/internal/app/consumer/config"
	consumerserver "faucet/internal/app/consumer/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := consumerconfig.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := consumerserver.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init consumer: %v", err)
	}
	defer srv.Close()

	log.Printf("consumer listening on topic %s", cfg.KafkaTopic)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("consumer stopped: %v", err)
	}
}
