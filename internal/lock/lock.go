// Package lock provides short-lived Redis mutexes. A nil Locker is valid and
// never blocks, so single-instance deployments run without Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyClientNumbering = "portal:lock:invoice-number:%s"
	keyInvoiceSend     = "portal:lock:invoice-send:%s"
	keySchedulerJob    = "portal:lock:scheduler:%s"

	defaultTTL  = 30 * time.Second
	retryPeriod = 50 * time.Millisecond
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrNotAcquired = errors.New("lock_not_acquired")

// Release frees a held lock. It is safe to call more than once.
type Release func(ctx context.Context) error

func noopRelease(context.Context) error { return nil }

type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    defaultTTL,
	}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	if !l.Enabled() || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Acquire polls until key is held or wait elapses.
func (l *Locker) Acquire(ctx context.Context, key string, wait time.Duration) (Release, error) {
	if !l.Enabled() {
		return noopRelease, nil
	}

	deadline := time.Now().Add(wait)
	for {
		token, ok, err := l.TryLock(ctx, key, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			released := false
			return func(ctx context.Context) error {
				if released {
					return nil
				}
				released = true
				return l.Unlock(ctx, key, token)
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryPeriod):
		}
	}
}

// ClientNumbering serializes invoice number assignment for one client.
func (l *Locker) ClientNumbering(ctx context.Context, clientID string, wait time.Duration) (Release, error) {
	return l.Acquire(ctx, fmt.Sprintf(keyClientNumbering, strings.TrimSpace(clientID)), wait)
}

// InvoiceSend keeps two sends of the same invoice from racing at the provider.
func (l *Locker) InvoiceSend(ctx context.Context, invoiceID string, wait time.Duration) (Release, error) {
	return l.Acquire(ctx, fmt.Sprintf(keyInvoiceSend, strings.TrimSpace(invoiceID)), wait)
}

// SchedulerJob claims one run of a background job across instances without
// waiting. ok is false when another instance holds the claim.
func (l *Locker) SchedulerJob(ctx context.Context, job string, ttl time.Duration) (Release, bool, error) {
	if !l.Enabled() {
		return noopRelease, true, nil
	}
	key := fmt.Sprintf(keySchedulerJob, strings.TrimSpace(job))
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil || !ok {
		return noopRelease, false, err
	}
	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		return l.Unlock(ctx, key, token)
	}, true, nil
}
