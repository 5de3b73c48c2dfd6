package research

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// domainLimiter enforces a minimum interval between requests to the same
// registrable domain. Limiters are created lazily per domain.
type domainLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func newDomainLimiter(interval time.Duration) *domainLimiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &domainLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the domain's limiter admits a request or ctx is done.
func (d *domainLimiter) Wait(ctx context.Context, rawURL string) error {
	dom := RegistrableDomain(rawURL)
	if dom == "" {
		return nil
	}
	d.mu.Lock()
	lim, ok := d.limiters[dom]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.interval), 1)
		d.limiters[dom] = lim
	}
	d.mu.Unlock()
	return lim.Wait(ctx)
}
