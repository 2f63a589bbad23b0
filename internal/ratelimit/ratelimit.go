package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket: rate tokens per second, up to burst.
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	now := time.Now()
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now,
		lastSeen:   now,
	}
}

func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.refill(now)
	l.lastSeen = now

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// refill must be called with the lock held.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

func (l *Limiter) idleSince(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen.Before(cutoff)
}

// PerClient hands out one Limiter per key (client id, remote IP) and
// evicts entries that have been idle for a while.
type PerClient struct {
	limiters map[string]*Limiter
	rate     float64
	burst    int
	mu       sync.RWMutex

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	stop            chan struct{}
}

func NewPerClient(rate float64, burst int) *PerClient {
	pc := &PerClient{
		limiters:        make(map[string]*Limiter),
		rate:            rate,
		burst:           burst,
		idleTimeout:     10 * time.Minute,
		cleanupInterval: 5 * time.Minute,
		stop:            make(chan struct{}),
	}
	go pc.cleanup()
	return pc
}

func (pc *PerClient) Get(key string) *Limiter {
	pc.mu.RLock()
	limiter, ok := pc.limiters[key]
	pc.mu.RUnlock()

	if ok {
		return limiter
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if limiter, ok := pc.limiters[key]; ok {
		return limiter
	}

	limiter = NewLimiter(pc.rate, pc.burst)
	pc.limiters[key] = limiter
	return limiter
}

// Allow is shorthand for Get(key).Allow().
func (pc *PerClient) Allow(key string) bool {
	return pc.Get(key).Allow()
}

func (pc *PerClient) Stop() {
	close(pc.stop)
}

func (pc *PerClient) cleanup() {
	ticker := time.NewTicker(pc.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pc.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-pc.idleTimeout)
			pc.mu.Lock()
			for key, limiter := range pc.limiters {
				if limiter.idleSince(cutoff) {
					delete(pc.limiters, key)
				}
			}
			pc.mu.Unlock()
		}
	}
}
