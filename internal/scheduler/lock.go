package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker grants a key to one caller until ttl passes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker shares slots between processes with SETNX.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func (l RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.Prefix != "" {
		key = l.Prefix + ":" + key
	}
	return l.Client.SetNX(ctx, key, "1", ttl).Result()
}

// LocalLocker only deduplicates within one process.
type LocalLocker struct {
	now  func() time.Time
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker(now func() time.Time) *LocalLocker {
	if now == nil {
		now = time.Now
	}
	return &LocalLocker{now: now, held: make(map[string]time.Time)}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, exp := range l.held {
		if !now.Before(exp) {
			delete(l.held, k)
		}
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}
