package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory keeps one token bucket per key in process memory.
type Memory struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	stop     chan struct{}
	once     sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory creates a limiter allowing rps requests per second per key with
// the given burst. Keys idle for longer than ttl are forgotten.
func NewMemory(rps float64, burst int, ttl time.Duration) *Memory {
	m := &Memory{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}

	go m.cleanup()

	return m
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictIdle(time.Now())
		}
	}
}

func (m *Memory) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.visitors, key)
		}
	}
}

func (m *Memory) getVisitor(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, exists := m.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(m.rate, m.burst)
		m.visitors[key] = &visitor{
			limiter:  limiter,
			lastSeen: time.Now(),
		}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	return m.getVisitor(key).Allow(), nil
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
