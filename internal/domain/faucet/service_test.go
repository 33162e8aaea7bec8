package faucet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"faucet/internal/chain"
)

const (
	testWallet   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testIdentity = "203.0.113.10"
)

var testNow = time.UnixMilli(1_760_000_000_000)

type memLedger struct {
	mu        sync.Mutex
	claims    map[string]time.Time
	reads     int
	writes    int
	lookupErr error
	writeErr  error
}

func newMemLedger() *memLedger {
	return &memLedger{claims: make(map[string]time.Time)}
}

func (l *memLedger) LastClaim(_ context.Context, identity string) (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.lookupErr != nil {
		return time.Time{}, false, l.lookupErr
	}
	at, ok := l.claims[identity]
	return at, ok, nil
}

func (l *memLedger) RecordClaim(_ context.Context, identity string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes++
	if l.writeErr != nil {
		return l.writeErr
	}
	l.claims[identity] = at
	return nil
}

type transferCall struct {
	to     string
	amount *big.Int
}

type fakeTransferer struct {
	mu    sync.Mutex
	calls []transferCall
	err   error
	delay time.Duration
	gate  map[string]chan struct{}
}

func (f *fakeTransferer) Transfer(ctx context.Context, to string, amount *big.Int) (string, error) {
	if gate, ok := f.gate[to]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transferCall{to: to, amount: new(big.Int).Set(amount)})
	if f.err != nil {
		return "", f.err
	}
	return "0xhash", nil
}

func (f *fakeTransferer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []ClaimEvent
}

func (f *fakePublisher) Publish(_ context.Context, event ClaimEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type serviceFixture struct {
	svc       *Service
	ledger    *memLedger
	transfer  *fakeTransferer
	publisher *fakePublisher
	payouts   *PayoutCalculator
}

func newFixture(t *testing.T, mutate func(*Dependencies)) serviceFixture {
	t.Helper()
	prizes, err := NewPrizeTable([]PrizeEntry{
		{Amount: decimal.RequireFromString("0.01"), Weight: 20},
		{Amount: decimal.RequireFromString("1"), Weight: 5},
	})
	if err != nil {
		t.Fatalf("prize table: %v", err)
	}
	payouts, err := NewPayoutCalculator(DefaultTransferDeduction, 18)
	if err != nil {
		t.Fatalf("payout calculator: %v", err)
	}
	f := serviceFixture{
		ledger:    newMemLedger(),
		transfer:  &fakeTransferer{},
		publisher: &fakePublisher{},
		payouts:   payouts,
	}
	deps := Dependencies{
		Ledger:       f.ledger,
		Transferer:   f.transfer,
		Validator:    AddressValidatorFunc(chain.IsValidAddress),
		Prizes:       prizes,
		Payouts:      payouts,
		Policy:       CooldownPolicy{Window: DefaultCooldown},
		Publisher:    f.publisher,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:        func() time.Time { return testNow },
		RetryBackoff: time.Millisecond,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc, err = NewService(deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return f
}

func claimRequest(identity string) ClaimRequest {
	return ClaimRequest{Identity: identity, Wallet: testWallet, RequestTime: testNow}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(Dependencies{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestClaimInvalidAddressSkipsLedger(t *testing.T) {
	f := newFixture(t, nil)
	req := claimRequest(testIdentity)
	req.Wallet = "0x1234"

	_, err := f.svc.Claim(context.Background(), req)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if f.ledger.reads != 0 || f.transfer.callCount() != 0 {
		t.Fatalf("expected no ledger read or transfer, got %d reads %d transfers", f.ledger.reads, f.transfer.callCount())
	}
}

func TestClaimRequiresIdentity(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Claim(context.Background(), claimRequest(" ")); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("expected ErrIdentityRequired, got %v", err)
	}
}

func TestClaimApprovedEndToEnd(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.svc.Claim(context.Background(), claimRequest("A"))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Status != StatusApproved {
		t.Fatalf("expected approval, got %s", result.Status)
	}
	if amount := result.Amount.String(); amount != "0.01" && amount != "1" {
		t.Fatalf("expected amount in {0.01, 1}, got %s", amount)
	}
	if result.TxHash != "0xhash" {
		t.Fatalf("expected tx hash, got %q", result.TxHash)
	}

	if f.transfer.callCount() != 1 {
		t.Fatalf("expected one transfer, got %d", f.transfer.callCount())
	}
	sent := f.transfer.calls[0]
	// amount / 0.9 in 18-decimal base units, truncated.
	want, _ := result.Amount.Shift(18).QuoRem(decimal.RequireFromString("0.9"), 0)
	if sent.amount.Cmp(want.BigInt()) != 0 {
		t.Fatalf("expected %s base units on chain, got %s", want, sent.amount)
	}
	if sent.to != testWallet {
		t.Fatalf("expected transfer to %s, got %s", testWallet, sent.to)
	}

	at, found, _ := f.ledger.LastClaim(context.Background(), "A")
	if !found || !at.Equal(testNow) {
		t.Fatalf("expected claim recorded at %v, got %v (found=%v)", testNow, at, found)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != EventClaimApproved {
		t.Fatalf("expected one claim_approved event, got %+v", f.publisher.events)
	}
}

func TestClaimCooldownActive(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.claims[testIdentity] = testNow.Add(-time.Hour)

	result, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Status != StatusCooldown {
		t.Fatalf("expected cooldown, got %s", result.Status)
	}
	if h, m, s := result.Remaining.Breakdown(); h != 23 || m != 0 || s != 0 {
		t.Fatalf("expected 23h 0m 0s, got %dh %dm %ds", h, m, s)
	}
	if f.transfer.callCount() != 0 || f.ledger.writes != 0 {
		t.Fatal("expected no transfer and no ledger write")
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.publisher.events))
	}
}

func TestClaimPrivilegedAddressBypassesCooldown(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) {
		d.Policy.Bypass = BypassRule{Address: testWallet}
	})
	f.ledger.claims[testIdentity] = testNow.Add(-time.Minute)

	result, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Status != StatusApproved {
		t.Fatalf("expected bypass approval, got %s", result.Status)
	}
}

func TestClaimTransferFailureLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, nil)
	previous := testNow.Add(-25 * time.Hour)
	f.ledger.claims[testIdentity] = previous
	f.transfer.err = errors.New("insufficient funds for gas")

	_, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if f.ledger.writes != 0 {
		t.Fatalf("expected no ledger write, got %d", f.ledger.writes)
	}
	if at := f.ledger.claims[testIdentity]; !at.Equal(previous) {
		t.Fatalf("expected ledger to keep %v, got %v", previous, at)
	}
	if f.transfer.callCount() != 1 {
		t.Fatalf("expected transfer not to be retried, got %d calls", f.transfer.callCount())
	}

	// The claimant may retry immediately.
	f.transfer.err = nil
	result, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if err != nil || result.Status != StatusApproved {
		t.Fatalf("expected retry to be approved, got %v / %v", result, err)
	}
}

func TestClaimLedgerWriteFailureStillApproves(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.LedgerWriteRetries = 2 })
	f.ledger.writeErr = errors.New("connection reset")

	result, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if err != nil {
		t.Fatalf("expected success after transfer, got %v", err)
	}
	if result.Status != StatusApproved {
		t.Fatalf("expected approval, got %s", result.Status)
	}
	if f.ledger.writes != 3 {
		t.Fatalf("expected 3 ledger write attempts, got %d", f.ledger.writes)
	}
	if f.transfer.callCount() != 1 {
		t.Fatalf("expected exactly one transfer, got %d", f.transfer.callCount())
	}
	if len(f.publisher.events) != 2 {
		t.Fatalf("expected alert and approval events, got %d", len(f.publisher.events))
	}
	if f.publisher.events[0].Type != EventLedgerWriteFailed || f.publisher.events[1].Type != EventClaimApproved {
		t.Fatalf("unexpected event order %s, %s", f.publisher.events[0].Type, f.publisher.events[1].Type)
	}
	if f.publisher.events[0].TxHash != "0xhash" {
		t.Fatalf("expected alert to carry tx hash, got %q", f.publisher.events[0].TxHash)
	}
}

func TestClaimLedgerLookupFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.lookupErr = errors.New("timeout")

	_, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if f.transfer.callCount() != 0 {
		t.Fatal("expected no transfer")
	}
}

func TestClaimConcurrentSameIdentityApprovesOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.transfer.delay = 5 * time.Millisecond

	const attempts = 25
	var approved, cooldown, failed int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
			switch {
			case err != nil:
				atomic.AddInt32(&failed, 1)
			case result.Status == StatusApproved:
				atomic.AddInt32(&approved, 1)
			case result.Status == StatusCooldown:
				atomic.AddInt32(&cooldown, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if approved != 1 || cooldown != attempts-1 || failed != 0 {
		t.Fatalf("expected 1 approval and %d cooldowns, got %d approvals %d cooldowns %d failures", attempts-1, approved, cooldown, failed)
	}
	if f.transfer.callCount() != 1 {
		t.Fatalf("expected one transfer, got %d", f.transfer.callCount())
	}
}

func TestClaimDistinctIdentitiesDoNotBlock(t *testing.T) {
	slowWallet := "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	gate := make(chan struct{})
	f := newFixture(t, nil)
	f.transfer.gate = map[string]chan struct{}{slowWallet: gate}

	slowDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Claim(context.Background(), ClaimRequest{Identity: "slow", Wallet: slowWallet, RequestTime: testNow})
		slowDone <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := f.svc.Claim(ctx, claimRequest("fast"))
	if err != nil {
		t.Fatalf("expected unrelated identity to proceed, got %v", err)
	}
	if result.Status != StatusApproved {
		t.Fatalf("expected approval, got %s", result.Status)
	}

	close(gate)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow claim: %v", err)
	}
}

// stuckLedger reads normally but never finishes a write until ctx is done.
type stuckLedger struct {
	*memLedger
}

func (l stuckLedger) RecordClaim(ctx context.Context, _ string, _ time.Time) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestClaimHangingLedgerWriteReleasesIdentity(t *testing.T) {
	ledger := stuckLedger{memLedger: newMemLedger()}
	f := newFixture(t, func(d *Dependencies) {
		d.Ledger = ledger
		d.LedgerWriteRetries = 1
		d.LedgerTimeout = 50 * time.Millisecond
	})

	reqCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		result, err := f.svc.Claim(reqCtx, claimRequest(testIdentity))
		if err == nil && result.Status != StatusApproved {
			err = errors.New("expected approval, got " + result.Status)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first claim: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("claim still blocked on ledger write")
	}
	if len(f.publisher.events) == 0 || f.publisher.events[0].Type != EventLedgerWriteFailed {
		t.Fatalf("expected ledger alert event, got %+v", f.publisher.events)
	}

	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if _, err := f.svc.Claim(ctx, claimRequest(testIdentity)); err != nil {
		t.Fatalf("expected identity lock to be free, got %v", err)
	}
}

func TestClaimHangingLedgerLookupIsBounded(t *testing.T) {
	f := newFixture(t, func(d *Dependencies) { d.LedgerTimeout = 20 * time.Millisecond })
	blocking := blockingLookup{memLedger: f.ledger}
	f.svc.ledger = blocking

	_, err := f.svc.Claim(context.Background(), claimRequest(testIdentity))
	if !errors.Is(err, ErrLedgerUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected bounded lookup failure, got %v", err)
	}
	if f.transfer.callCount() != 0 {
		t.Fatal("expected no transfer")
	}
}

type blockingLookup struct {
	*memLedger
}

func (l blockingLookup) LastClaim(ctx context.Context, _ string) (time.Time, bool, error) {
	<-ctx.Done()
	return time.Time{}, false, ctx.Err()
}
