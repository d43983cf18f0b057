package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lock serializes detection runs across processes. Concurrent runs would race
// on network id allocation and duplicate-alert suppression, so at most one
// run may hold the lock at a time.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New creates a run lock on the given redis address.
func New(addr, key string, ttl time.Duration) *Lock {
	if key == "" {
		key = "promatrix:runlock"
	}
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Lock{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		ttl:    ttl,
	}
}

// ErrHeld is returned when another run currently holds the lock.
var ErrHeld = fmt.Errorf("detection run lock is held by another run")

// Acquire takes the lock and returns a release function. The release only
// deletes the key if this holder still owns it, so an expired lock taken over
// by a later run is never released from under it.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(ctx, l.client, []string{l.key}, token)
	}
	return release, nil
}

// releaseScript deletes the key only when the stored token matches.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Close releases the underlying client.
func (l *Lock) Close() error { return l.client.Close() }
