// Package redis backs the alert store with Redis. All calls run through a
// circuit breaker; writes rejected while the breaker is open are buffered
// and replayed once Redis recovers, so alert mutations survive a short
// outage with in-memory state only.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultMaxFailures = 5
	defaultResetAfter  = 10 * time.Second
	opTimeout          = 3 * time.Second
)

// Options configures the Redis store.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a key/value record store over Redis.
type Store struct {
	client  *goredis.Client
	breaker *Breaker
	log     *slog.Logger

	// OnBreakerChange, when set, observes breaker transitions.
	OnBreakerChange func(from, to BreakerState)

	mu      sync.Mutex
	pending map[string]string // writes buffered while the breaker is open
}

// Open connects to Redis and verifies reachability with a ping.
func Open(opts Options, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	s := &Store{
		client:  client,
		breaker: NewBreaker(defaultMaxFailures, defaultResetAfter),
		log:     log,
		pending: make(map[string]string),
	}
	s.breaker.OnStateChange = func(from, to BreakerState) {
		log.Warn("redis circuit breaker transition", "from", from.String(), "to", to.String())
		if to == BreakerClosed {
			go s.flushPending()
		}
		if s.OnBreakerChange != nil {
			s.OnBreakerChange(from, to)
		}
	}
	log.Info("redis connected", "addr", opts.Addr)
	return s, nil
}

// Get loads the record stored under key into v. The second return is
// false when no record exists.
func (s *Store) Get(key string, v any) (bool, error) {
	var raw string
	err := s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		var err error
		raw, err = s.client.Get(ctx, key).Result()
		return err
	})
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key. While the breaker is open the latest value per
// key is buffered instead and replayed when Redis comes back.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}

	err = s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return s.client.Set(ctx, key, raw, 0).Err()
	})
	if err == ErrCircuitOpen {
		s.mu.Lock()
		s.pending[key] = string(raw)
		s.mu.Unlock()
		s.log.Warn("redis write buffered, breaker open", "key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// flushPending replays buffered writes after the breaker closes.
func (s *Store) flushPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]string)
	s.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for key, raw := range pending {
		if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
			s.log.Error("failed to replay buffered write", "key", key, "err", err)
			continue
		}
	}
	s.log.Info("replayed buffered writes", "count", len(pending))
}

// BreakerState exposes the breaker state for metrics.
func (s *Store) BreakerState() BreakerState {
	return s.breaker.State()
}

// Client exposes the underlying client for health probes.
func (s *Store) Client() *goredis.Client { return s.client }

// Close closes the connection.
func (s *Store) Close() error {
	return s.client.Close()
}
