package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds our token, so an expired lease
// never frees a lock somebody else has taken since.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockHeld     = errors.New("lock held by another worker")
	ErrLockDisabled = errors.New("lock client not configured")
)

const (
	keyPayoutLock = "payout:lock:"
	keyRefundLock = "refund:lock:"
	keyJobLock    = "scheduler:lock:"
)

// PayoutLockKey serialises batches per beneficiary.
func PayoutLockKey(beneficiary string) string { return keyPayoutLock + beneficiary }

// RefundLockKey serialises refunds per transaction.
func RefundLockKey(transactionID string) string { return keyRefundLock + transactionID }

// JobLockKey keeps one replica per scheduler job.
func JobLockKey(job string) string { return keyJobLock + job }

type Locker struct {
	client  *redis.Client
	release *redis.Script
}

// NewLocker returns nil for a nil client.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// Lease is a held lock. The zero and nil leases release as no-ops.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes key for at most ttl. It returns ErrLockHeld when another
// holder has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if !l.Enabled() {
		return nil, ErrLockDisabled
	}
	if key == "" || ttl <= 0 {
		return nil, errors.New("lock needs a key and a positive ttl")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release survives a cancelled ctx so a finished request still frees its lock.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || !l.locker.Enabled() {
		return nil
	}
	return l.locker.release.Run(context.WithoutCancel(ctx), l.locker.client, []string{l.key}, l.token).Err()
}
