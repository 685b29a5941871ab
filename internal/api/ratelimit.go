package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AccountLimiter is a token bucket per account for the trade endpoints.
type AccountLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	accounts map[string]*accountBucket
	lastGC   time.Time
	now      func() time.Time
}

type accountBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewAccountLimiter allows perSecond trades per account with the given
// burst. A nil *AccountLimiter or perSecond <= 0 allows everything.
func NewAccountLimiter(perSecond float64, burst int) *AccountLimiter {
	if burst < 1 {
		burst = 1
	}
	return &AccountLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		accounts: make(map[string]*accountBucket),
		now:      time.Now,
	}
}

// Allow reports whether the account may trade now and consumes a token.
func (l *AccountLimiter) Allow(accountID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.accounts[accountID]
	if !ok {
		b = &accountBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.accounts[accountID] = b
	}
	b.lastAccess = now
	l.gc(now)
	return b.limiter.AllowN(now, 1)
}

// gc drops buckets idle for longer than l.idle, at most once per idle
// period. Caller holds l.mu.
func (l *AccountLimiter) gc(now time.Time) {
	if now.Sub(l.lastGC) < l.idle {
		return
	}
	l.lastGC = now
	for id, b := range l.accounts {
		if now.Sub(b.lastAccess) > l.idle {
			delete(l.accounts, id)
		}
	}
}
