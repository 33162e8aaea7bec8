package faucet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"faucet/internal/observability/metrics"
)

const (
	StatusApproved = "APPROVED"
	StatusCooldown = "COOLDOWN_ACTIVE"
)

var (
	// ErrInvalidAddress indicates the destination is not a well-formed chain address.
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrIdentityRequired indicates the caller identity could not be determined.
	ErrIdentityRequired = errors.New("claimant identity required")
	// ErrLedgerUnavailable indicates the last claim could not be read.
	ErrLedgerUnavailable = errors.New("claim ledger unavailable")
	// ErrTransferFailed indicates the transfer was not submitted. The ledger is untouched.
	ErrTransferFailed = errors.New("transfer failed")
)

var tracer = otel.Tracer("faucet/internal/domain/faucet")

// Ledger persists the last successful claim per identity.
type Ledger interface {
	LastClaim(ctx context.Context, identity string) (time.Time, bool, error)
	RecordClaim(ctx context.Context, identity string, at time.Time) error
}

// Transferer submits a token transfer and returns the transaction hash.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount *big.Int) (string, error)
}

// AddressValidator reports whether s is a well-formed destination address.
type AddressValidator interface {
	IsValidAddress(s string) bool
}

// AddressValidatorFunc adapts a function to AddressValidator.
type AddressValidatorFunc func(string) bool

// IsValidAddress implements AddressValidator.
func (f AddressValidatorFunc) IsValidAddress(s string) bool { return f(s) }

// Publisher emits claim events. Failures are logged, never returned to claimants.
type Publisher interface {
	Publish(ctx context.Context, event ClaimEvent) error
}

// Dependencies enumerates collaborators of the Service. Publisher, Locker,
// Logger and Clock are optional.
type Dependencies struct {
	Ledger     Ledger
	Transferer Transferer
	Validator  AddressValidator
	Prizes     *PrizeTable
	Payouts    *PayoutCalculator
	Policy     CooldownPolicy
	Locker     Locker
	Publisher  Publisher
	Logger     *slog.Logger
	Clock      func() time.Time
	// LedgerWriteRetries is how many extra attempts the post-transfer ledger
	// write gets. The transfer itself is never retried.
	LedgerWriteRetries int
	RetryBackoff       time.Duration
	// LedgerTimeout bounds the lookup and, separately, the whole post-transfer
	// write including retries. Together with the transfer they must finish
	// within the distributed lock TTL.
	LedgerTimeout time.Duration
}

// DefaultLedgerTimeout bounds each ledger phase of a claim.
const DefaultLedgerTimeout = 10 * time.Second

// ClaimRequest is one claim attempt.
type ClaimRequest struct {
	Identity    string
	Wallet      string
	RequestTime time.Time
}

// ClaimResult represents the outcome of a claim that did not fail.
type ClaimResult struct {
	Status    string
	Amount    decimal.Decimal
	Payout    Payout
	TxHash    string
	Remaining Remaining
}

// Service decides eligibility and disburses prizes.
type Service struct {
	ledger     Ledger
	transferer Transferer
	validator  AddressValidator
	prizes     *PrizeTable
	payouts    *PayoutCalculator
	policy     CooldownPolicy
	locker     Locker
	publisher  Publisher
	logger     *slog.Logger
	clock      func() time.Time
	retries    int
	backoff    time.Duration
	timeout    time.Duration
}

// NewService wires dependencies.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("ledger is required")
	case deps.Transferer == nil:
		return nil, errors.New("transferer is required")
	case deps.Validator == nil:
		return nil, errors.New("address validator is required")
	case deps.Prizes == nil:
		return nil, errors.New("prize table is required")
	case deps.Payouts == nil:
		return nil, errors.New("payout calculator is required")
	}
	s := &Service{
		ledger:     deps.Ledger,
		transferer: deps.Transferer,
		validator:  deps.Validator,
		prizes:     deps.Prizes,
		payouts:    deps.Payouts,
		policy:     deps.Policy,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		logger:     deps.Logger,
		clock:      deps.Clock,
		retries:    deps.LedgerWriteRetries,
		backoff:    deps.RetryBackoff,
		timeout:    deps.LedgerTimeout,
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.retries < 0 {
		s.retries = 0
	}
	if s.backoff <= 0 {
		s.backoff = 100 * time.Millisecond
	}
	if s.timeout <= 0 {
		s.timeout = DefaultLedgerTimeout
	}
	return s, nil
}

// Claim validates the request, checks the cooldown, and on approval transfers a
// weighted random prize and records the claim. Cooldown is reported through
// ClaimResult.Status, not as an error.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "faucet.Claim")
	defer span.End()
	span.SetAttributes(attribute.String("faucet.identity", req.Identity), attribute.String("faucet.wallet", req.Wallet))

	result, err := s.claim(ctx, req)

	outcome := outcomeOf(result, err)
	metrics.ObserveClaim(outcome, time.Since(start))
	span.SetAttributes(attribute.String("faucet.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Service) claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if strings.TrimSpace(req.Identity) == "" {
		return nil, ErrIdentityRequired
	}
	if !s.validator.IsValidAddress(req.Wallet) {
		return nil, ErrInvalidAddress
	}
	now := req.RequestTime
	if now.IsZero() {
		now = s.clock()
	}

	release, err := s.locker.Acquire(ctx, req.Identity)
	if err != nil {
		return nil, fmt.Errorf("acquire claim lock: %w", err)
	}
	result, events, err := s.decide(ctx, req, now)
	release()

	for _, event := range events {
		s.publish(context.WithoutCancel(ctx), event)
	}
	return result, err
}

// decide runs the eligibility check, transfer and ledger write. It must be
// called with the identity lock held.
func (s *Service) decide(ctx context.Context, req ClaimRequest, now time.Time) (*ClaimResult, []ClaimEvent, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	last, found, err := s.ledger.LastClaim(lookupCtx, req.Identity)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	var lastClaim *time.Time
	if found {
		lastClaim = &last
	}

	eligibility := s.policy.IsEligible(lastClaim, now, req.Wallet)
	if !eligibility.Eligible {
		return &ClaimResult{Status: StatusCooldown, Remaining: eligibility.Remaining}, nil, nil
	}
	if eligibility.Bypassed {
		metrics.IncCooldownBypass()
		s.logger.Warn("cooldown bypassed for privileged address",
			"event", "cooldown_bypassed",
			"module", "domain/faucet",
			"identity", req.Identity,
			"wallet", req.Wallet,
		)
	}

	prize := s.prizes.Pick()
	payout := s.payouts.Adjust(prize)

	txHash, err := s.transfer(ctx, req.Wallet, payout.BaseUnits)
	if err != nil {
		s.logger.Error("token transfer failed",
			"event", "transfer_failed",
			"module", "domain/faucet",
			"identity", req.Identity,
			"wallet", req.Wallet,
			"base_units", payout.BaseUnits.String(),
			"error", err,
		)
		return nil, nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	// Funds have moved; nothing below may turn this into a failure.
	claimedAt := s.clock()
	var events []ClaimEvent
	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	err = s.recordClaim(writeCtx, req.Identity, claimedAt)
	cancelWrite()
	if err != nil {
		metrics.IncLedgerInconsistency()
		s.logger.Error("claim not recorded after transfer",
			"event", EventLedgerWriteFailed,
			"module", "domain/faucet",
			"identity", req.Identity,
			"wallet", req.Wallet,
			"tx_hash", txHash,
			"claimed_at", claimedAt,
			"error", err,
		)
		events = append(events, newClaimEvent(EventLedgerWriteFailed, req, payout, txHash, claimedAt))
	}
	events = append(events, newClaimEvent(EventClaimApproved, req, payout, txHash, claimedAt))

	s.logger.Info("faucet claim approved",
		"event", EventClaimApproved,
		"module", "domain/faucet",
		"identity", req.Identity,
		"wallet", req.Wallet,
		"amount", prize.String(),
		"payout", payout.Amount.String(),
		"tx_hash", txHash,
	)
	return &ClaimResult{
		Status: StatusApproved,
		Amount: prize,
		Payout: payout,
		TxHash: txHash,
	}, events, nil
}

func (s *Service) transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	ctx, span := tracer.Start(ctx, "faucet.Transfer")
	defer span.End()
	span.SetAttributes(attribute.String("faucet.base_units", amount.String()))
	txHash, err := s.transferer.Transfer(ctx, to, amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("faucet.tx_hash", txHash))
	return txHash, nil
}

func (s *Service) recordClaim(ctx context.Context, identity string, at time.Time) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * s.backoff):
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			}
		}
		if err = s.ledger.RecordClaim(ctx, identity, at); err == nil {
			return nil
		}
		s.logger.Warn("ledger write attempt failed",
			"module", "domain/faucet",
			"identity", identity,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return err
}

func (s *Service) publish(ctx context.Context, event ClaimEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("claim event not published",
			"module", "domain/faucet",
			"event_id", event.ID,
			"event_type", event.Type,
			"identity", event.Identity,
			"error", err,
		)
	}
}

func outcomeOf(result *ClaimResult, err error) string {
	switch {
	case err == nil && result != nil && result.Status == StatusApproved:
		return "approved"
	case err == nil && result != nil && result.Status == StatusCooldown:
		return "cooldown"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrLedgerUnavailable):
		return "ledger_unavailable"
	default:
		return "error"
	}
}
