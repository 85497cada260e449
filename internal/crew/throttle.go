package crew

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mtzanidakis/warroom/internal/agent"
)

// Throttle enforces per-agent invocations-per-minute ceilings. One Throttle
// is shared by every run in the process so concurrent runs draw from the
// same budget.
type Throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle() *Throttle {
	return &Throttle{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until d may be invoked and returns how long it waited. It
// fails only when ctx ends first.
func (t *Throttle) Wait(ctx context.Context, d *agent.Descriptor) (time.Duration, error) {
	rpm := d.RateLimit()
	if rpm <= 0 {
		return 0, nil
	}

	lim := t.limiter(d.ID(), rpm)
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return time.Since(start), ctx.Err()
		}
		return time.Since(start), err
	}
	return time.Since(start), nil
}

func (t *Throttle) limiter(id string, rpm int) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	every := rate.Every(time.Minute / time.Duration(rpm))
	lim, ok := t.limiters[id]
	if !ok {
		lim = rate.NewLimiter(every, 1)
		t.limiters[id] = lim
		return lim
	}
	// A config reload may have changed the ceiling
	if lim.Limit() != every {
		lim.SetLimit(every)
	}
	return lim
}
