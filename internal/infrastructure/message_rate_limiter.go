package infrastructure

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter keeps one token bucket per inbound sender
type MessageRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*senderBucket
	limit   rate.Limit
	burst   int
	maxIdle time.Duration
	now     func() time.Time
}

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMessageRateLimiter allows perMinute messages per sender with the given burst
func NewMessageRateLimiter(perMinute, burst int) *MessageRateLimiter {
	return &MessageRateLimiter{
		buckets: make(map[string]*senderBucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		maxIdle: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow consumes one token for key
func (rl *MessageRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &senderBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Reset drops the bucket for key
func (rl *MessageRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
}

// Sweep removes buckets idle for longer than maxIdle
func (rl *MessageRateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.maxIdle {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps periodically until ctx ends
func (rl *MessageRateLimiter) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

func (rl *MessageRateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]any{
		"active_senders": len(rl.buckets),
		"per_second":     float64(rl.limit),
		"burst":          rl.burst,
	}
}
