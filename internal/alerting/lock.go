package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RuleLocker serializes intake and lifecycle work per rule id.
type RuleLocker interface {
	// Lock blocks until the rule is held or ctx is done. The returned func
	// releases it.
	Lock(ctx context.Context, ruleID string) (func(), error)
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for ruleID.
func (l *LocalLocker) Lock(ctx context.Context, ruleID string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[ruleID]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[ruleID] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(ruleID, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(ruleID, kl)
		})
	}, nil
}

func (l *LocalLocker) release(ruleID string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, ruleID)
	}
}

// size returns the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// ErrLockTimeout is returned when a distributed lock cannot be acquired in
// time.
var ErrLockTimeout = errors.New("rule lock not acquired")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockerConfig configures the distributed locker.
type RedisLockerConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can block a rule.
	TTL time.Duration
	// Wait bounds how long Lock retries before giving up.
	Wait time.Duration
	// Retry is the delay between acquisition attempts.
	Retry time.Duration
	// Logger receives release failures. The zero value discards them.
	Logger zerolog.Logger
}

// RedisLocker serializes rules across instances with SET NX PX and a
// compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisLockerConfig
}

// NewRedisLocker creates a distributed locker.
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "blazealert:rule-lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg}
}

// Lock acquires the lock for ruleID.
func (l *RedisLocker) Lock(ctx context.Context, ruleID string) (func(), error) {
	key := l.cfg.Prefix + ruleID
	token := uuid.New().String()
	deadline := time.Now().Add(l.cfg.Wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire rule lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, ruleID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.cfg.Retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must outlive a cancelled request context.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.cfg.Logger.Warn().Err(err).
					Str("rule_id", ruleID).
					Dur("ttl", l.cfg.TTL).
					Msg("rule lock release failed, key held until ttl")
			}
		})
	}, nil
}
