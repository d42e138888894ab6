// Package ratelimit caps how many chat requests a user may send per window.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Window is the period over which the per-user request limit applies.
const Window = time.Minute

type Limiter interface {
	// Allow records one request for key and reports whether it may proceed.
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is a per-process limiter holding one token bucket per key. A bucket
// allows max requests at once and refills at max per Window.
type Memory struct {
	mu       sync.Mutex
	max      int
	every    rate.Limit
	window   time.Duration
	now      func() time.Time
	limiters map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemory(limit int) *Memory {
	return &Memory{
		max:      limit,
		every:    rate.Every(Window / time.Duration(max(limit, 1))),
		window:   Window,
		now:      time.Now,
		limiters: make(map[string]*entry),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(m.every, m.max)}
		m.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// Sweep forgets keys idle for a full window; their buckets are full again.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.limiters {
		if now.Sub(e.lastSeen) >= m.window {
			delete(m.limiters, k)
		}
	}
}

// Redis shares the fixed window across instances through INCR and EXPIRE.
type Redis struct {
	client *redis.Client
	max    int
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, max int) *Redis {
	return &Redis{client: client, max: max, window: Window, prefix: "chatbot:ratelimit:"}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.prefix + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return incr.Val() <= int64(r.max), nil
}
