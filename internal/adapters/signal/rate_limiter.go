package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/akarpov/parley/internal/domain"
)

// MapLimiter keeps one token bucket per user. A session that floods the
// socket gets its frames rejected; the connection itself stays up.
type MapLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewMapLimiter(rps float64, burst int) *MapLimiter {
	return &MapLimiter{
		limiters: make(map[domain.UserID]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (m *MapLimiter) Allow(uid domain.UserID) bool {
	m.mu.Lock()
	l, ok := m.limiters[uid]
	if !ok {
		l = rate.NewLimiter(m.rps, m.burst)
		m.limiters[uid] = l
	}
	m.mu.Unlock()
	return l.Allow()
}

// Forget drops a user's bucket, typically when their last session goes.
func (m *MapLimiter) Forget(uid domain.UserID) {
	m.mu.Lock()
	delete(m.limiters, uid)
	m.mu.Unlock()
}
