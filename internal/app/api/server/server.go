package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"faucet/internal/app/api/config"
	"faucet/internal/app/api/router"
	"faucet/internal/chain"
	"faucet/internal/db"
	"faucet/internal/domain/faucet"
	"faucet/internal/kafka"
	"faucet/internal/messaging/claim"
	redispkg "faucet/internal/redis"
	"faucet/internal/sqlite"
)

// Server wires infrastructure dependencies for the API service.
type Server struct {
	cfg        config.Config
	httpServer *http.Server
	closers    []func()
}

// New constructs the server and underlying dependencies. On error every
// dependency opened so far is released.
func New(ctx context.Context, cfg config.Config) (srv *Server, err error) {
	s := &Server{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	ledger, err := s.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	var locker faucet.Locker = faucet.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		redisClient, err := redispkg.New(cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = redisClient.Close() })
		locker = faucet.MultiLocker{locker, redispkg.NewIdentityLocker(redisClient, cfg.Faucet.LockTTL)}
	}

	var publisher faucet.Publisher
	if cfg.KafkaEnabled {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		s.closers = append(s.closers, func() { _ = producer.Close() })
		publisher = claim.NewPublisher(producer)
	}

	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:       cfg.Chain.RPCURL,
		PrivateKey:   cfg.Chain.PrivateKey,
		TokenAddress: cfg.Chain.TokenAddress,
		Timeout:      cfg.Chain.Timeout,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, chainClient.Close)

	svc, err := newFaucetService(cfg, ledger, chainClient, locker, publisher)
	if err != nil {
		return nil, err
	}

	ginRouter, err := router.New(router.Dependencies{
		Faucet:         svc,
		Logger:         slog.Default(),
		StaticDir:      cfg.StaticDir,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{Addr: ":" + cfg.Port, Handler: ginRouter}

	slog.Info("faucet configured",
		"module", "api/server",
		"ledger", cfg.LedgerDriver,
		"faucet_wallet", chainClient.From().Hex(),
		"token", cfg.Chain.TokenAddress,
		"cooldown", cfg.Faucet.Cooldown.String(),
		"bypass_enabled", cfg.Faucet.PrivilegedAddress != "",
		"distributed_lock", cfg.RedisAddr != "",
		"kafka", cfg.KafkaEnabled,
		"trusted_proxies", cfg.TrustedProxies,
	)
	if cfg.KafkaEnabled && !ledgerRepairSupported(cfg.LedgerDriver) {
		slog.Warn("ledger repair unavailable: the claim consumer repairs the postgres ledger only",
			"module", "api/server",
			"ledger", cfg.LedgerDriver,
		)
	}
	return s, nil
}

func (s *Server) openLedger(ctx context.Context) (faucet.Ledger, error) {
	switch s.cfg.LedgerDriver {
	case config.LedgerSQLite:
		store, err := sqlite.Open(s.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = store.Close() })
		return store, nil
	default:
		store, err := db.New(ctx, s.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
}

// ledgerRepairSupported reports whether ledger_write_failed events replayed by
// the claim consumer reach the ledger this API reads.
func ledgerRepairSupported(driver string) bool {
	return driver == config.LedgerPostgres
}

func newFaucetService(cfg config.Config, ledger faucet.Ledger, transferer faucet.Transferer, locker faucet.Locker, publisher faucet.Publisher) (*faucet.Service, error) {
	entries, err := faucet.LoadPrizeEntries(cfg.Faucet.PrizeTableFile)
	if err != nil {
		return nil, err
	}
	prizes, err := faucet.NewPrizeTable(entries)
	if err != nil {
		return nil, err
	}
	deduction, err := decimal.NewFromString(cfg.Faucet.TransferDeduction)
	if err != nil {
		return nil, fmt.Errorf("parse TRANSFER_DEDUCTION: %w", err)
	}
	payouts, err := faucet.NewPayoutCalculator(deduction, cfg.Chain.Decimals)
	if err != nil {
		return nil, err
	}
	return faucet.NewService(faucet.Dependencies{
		Ledger:     ledger,
		Transferer: transferer,
		Validator:  faucet.AddressValidatorFunc(chain.IsValidAddress),
		Prizes:     prizes,
		Payouts:    payouts,
		Policy: faucet.CooldownPolicy{
			Window: cfg.Faucet.Cooldown,
			Bypass: faucet.BypassRule{Address: cfg.Faucet.PrivilegedAddress},
		},
		Locker:             locker,
		Publisher:          publisher,
		Logger:             slog.Default(),
		LedgerWriteRetries: cfg.Faucet.LedgerWriteRetries,
		LedgerTimeout:      cfg.Faucet.LedgerTimeout,
	})
}

// Run starts the HTTP server and blocks until ctx is canceled or fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases infrastructure resources in reverse order of acquisition.
func (s *Server) Close() {
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
