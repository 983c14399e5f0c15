package ratelimit

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// Limiter paces one tenant's outbound marketplace calls. The target site
// publishes no rate-limit contract and bans clients that look scripted, so
// instead of a token bucket the limiter draws every delay from a range,
// enforces a floor between consecutive calls, and every so often takes a
// long break the way a person browsing would. Retries pay the same cost as
// first attempts.
type Limiter struct {
	mu         sync.Mutex
	cfg        Config
	rng        *rand.Rand
	lastCall   time.Time
	sincePause int
	nextPause  int

	now func() time.Time
}

type Span struct{ Min, Max time.Duration }

type Config struct {
	ReadDelay  Span   // per-request delay for GET/HEAD
	WriteDelay Span   // per-request delay for mutating methods
	MinSpacing time.Duration
	Pause      Span   // length of the periodic long pause
	PauseAfter [2]int // requests between pauses, redrawn each time
}

func DefaultConfig() Config {
	return Config{
		ReadDelay:  Span{3 * time.Second, 8 * time.Second},
		WriteDelay: Span{5 * time.Second, 15 * time.Second},
		MinSpacing: 3 * time.Second,
		Pause:      Span{15 * time.Second, 30 * time.Second},
		PauseAfter: [2]int{10, 15},
	}
}

func New(cfg Config, seed int64) *Limiter {
	l := &Limiter{cfg: cfg, rng: rand.New(rand.NewSource(seed)), now: time.Now}
	l.nextPause = l.drawPauseAfter()
	return l
}

func (l *Limiter) drawPauseAfter() int {
	lo, hi := l.cfg.PauseAfter[0], l.cfg.PauseAfter[1]
	if hi <= lo {
		return lo
	}
	return lo + l.rng.Intn(hi-lo+1)
}

func (l *Limiter) drawSpan(s Span) time.Duration {
	if s.Max <= s.Min {
		return s.Min
	}
	return s.Min + time.Duration(l.rng.Int63n(int64(s.Max-s.Min)))
}

// reserve computes the next delay and advances the limiter's clock to the
// projected call time. floor is the action type's own target interval,
// raising the drawn delay when the span alone would undercut it; zero
// means no per-action minimum. Split from Wait so the pacing math is
// testable without sleeping.
func (l *Limiter) reserve(method string, floor time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	span := l.cfg.WriteDelay
	if method == http.MethodGet || method == http.MethodHead {
		span = l.cfg.ReadDelay
	}
	delay := l.drawSpan(span)
	if delay < floor {
		delay = floor
	}

	l.sincePause++
	if l.sincePause >= l.nextPause {
		delay += l.drawSpan(l.cfg.Pause)
		l.sincePause = 0
		l.nextPause = l.drawPauseAfter()
	}

	now := l.now()
	if !l.lastCall.IsZero() {
		if floor := l.lastCall.Add(l.cfg.MinSpacing); now.Add(delay).Before(floor) {
			delay = floor.Sub(now)
		}
	}
	l.lastCall = now.Add(delay)
	return delay
}

// Wait blocks for the drawn delay and returns it. A cancelled context cuts
// the wait short; the caller must not make the marketplace call in that
// case.
func (l *Limiter) Wait(ctx context.Context, method, path string, floor time.Duration) (time.Duration, error) {
	_ = path // reserved for per-endpoint tuning
	d := l.reserve(method, floor)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return d, ctx.Err()
	case <-t.C:
		return d, nil
	}
}
