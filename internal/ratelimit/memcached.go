package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	keyPrefix = "ratelimit:"
	// maxCASAttempts bounds the optimistic update loop under contention.
	maxCASAttempts = 16
	// memcached rejects keys longer than 250 bytes.
	maxKeyLen = 250
)

var errCASExhausted = errors.New("memcached: too many concurrent updates")

// MemcachedStore shares request logs between instances through memcached. Each caller's
// log is one JSON-encoded item updated with gets/cas, so concurrent instances never
// lose an admitted request.
type MemcachedStore struct {
	policy Policy
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(p Policy, addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{policy: p, client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcacheKey maps a caller key onto the memcached key alphabet.
func memcacheKey(k string) string {
	key := keyPrefix + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
	if len(key) > maxKeyLen {
		key = key[:maxKeyLen]
	}
	return key
}

// expiration lets memcached drop a log once its newest entry has left the window.
func (s *MemcachedStore) expiration() int32 {
	return int32(s.policy.Window/time.Second) + 1
}

func (s *MemcachedStore) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	mkey := memcacheKey(key)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}

		item, err := s.client.Get(mkey)
		if errors.Is(err, memcache.ErrCacheMiss) {
			kept, d := decide(s.policy, nil, now)
			raw, err := json.Marshal(kept)
			if err != nil {
				return Decision{}, err
			}
			err = s.client.Add(&memcache.Item{Key: mkey, Value: raw, Expiration: s.expiration()})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			if err != nil {
				return Decision{}, fmt.Errorf("memcached add: %w", err)
			}
			return d, nil
		}
		if err != nil {
			return Decision{}, fmt.Errorf("memcached get: %w", err)
		}

		var times []int64
		if err := json.Unmarshal(item.Value, &times); err != nil {
			// Unreadable log: start over rather than lock the caller out.
			times = nil
		}
		kept, d := decide(s.policy, times, now)
		if !d.Allowed {
			return d, nil
		}
		raw, err := json.Marshal(kept)
		if err != nil {
			return Decision{}, err
		}
		item.Value = raw
		item.Expiration = s.expiration()
		err = s.client.CompareAndSwap(item)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("memcached cas: %w", err)
		}
		return d, nil
	}
	return Decision{}, errCASExhausted
}

// Ping checks if memcached is reachable.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
