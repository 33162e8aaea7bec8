package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// IdentityLocker is a cross-instance claim lock. It satisfies faucet.Locker.
type IdentityLocker struct {
	client *Client
	ttl    time.Duration
	poll   time.Duration
}

// NewIdentityLocker builds a locker whose keys expire after ttl, so a crashed
// holder cannot block an identity forever. ttl should exceed the transfer timeout.
func NewIdentityLocker(client *Client, ttl time.Duration) *IdentityLocker {
	return &IdentityLocker{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

// Acquire polls until the identity lock is taken or ctx is done.
func (l *IdentityLocker) Acquire(ctx context.Context, identity string) (func(), error) {
	key := ClaimLockKey(identity)
	token := uuid.NewString()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := l.client.TryLock(ctx, key, token, l.ttl)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.client.Unlock(releaseCtx, key, token); err != nil {
					slog.Warn("claim lock not released, waiting for expiry", "module", "redis", "key", key, "error", err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
