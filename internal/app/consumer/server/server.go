package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	consumerconfig "faucet/internal/app/consumer/config"
	"faucet/internal/db"
	"faucet/internal/domain/faucet"
	"faucet/internal/messaging/claim"
)

// Server hosts the Kafka consumer that audits claims and repairs the ledger.
type Server struct {
	cfg      consumerconfig.Config
	store    *db.Store
	consumer *claim.Consumer
	metrics  *http.Server
}

// New builds the consumer server and supporting dependencies.
func New(ctx context.Context, cfg consumerconfig.Config) (*Server, error) {
	store, err := db.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}

	handler := faucet.NewClaimRecorder(store, slog.Default())
	claimConsumer, err := claim.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopic, handler)
	if err != nil {
		store.Close()
		return nil, err
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	return &Server{
		cfg:      cfg,
		store:    store,
		consumer: claimConsumer,
		metrics:  metricsSrv,
	}, nil
}

// Run starts consuming claim events until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if s.metrics != nil {
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("consumer metrics server stopped", "module", "consumer/server", "error", err)
			}
		}()
		slog.Info("consumer metrics listening", "module", "consumer/server", "addr", s.cfg.MetricsAddr)
	}
	return s.consumer.Start(ctx)
}

// Close releases resources.
func (s *Server) Close() {
	if s.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(shutdownCtx)
	}
	if s.consumer != nil {
		_ = s.consumer.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
