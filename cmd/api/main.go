package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apiconfig "faucet/internal/app/api/config"
	apiserver "faucet/internal/app/api/server"
	"faucet/internal/observability/tracing"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := apiconfig.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "faucet-api", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	srv, err := apiserver.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize api server: %v", err)
	}
	defer srv.Close()

	log.Printf("faucet api listening on %s", cfg.Port)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("api server stopped: %v", err)
	}
}
