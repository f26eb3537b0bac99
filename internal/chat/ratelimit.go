package chat

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultSendInterval is the minimum spacing between accepted sends on one connection.
const DefaultSendInterval = 500 * time.Millisecond

// rateGate enforces a minimum interval between accepted sends. A rejected
// attempt leaves the window untouched. Private and room sends share one gate.
type rateGate struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func newRateGate(interval time.Duration, now func() time.Time) *rateGate {
	if interval <= 0 {
		return &rateGate{limiter: rate.NewLimiter(rate.Inf, 1), now: now}
	}
	return &rateGate{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     now,
	}
}

// Allow reports whether a send may proceed now and, if so, consumes the window.
func (g *rateGate) Allow() bool {
	return g.limiter.AllowN(g.now(), 1)
}
