package breaker

import (
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Cooldown         time.Duration // open duration before trial calls
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 60 * time.Second}
}

// Breaker gates one marketplace. The open -> half-open transition is lazy:
// it happens on the next CanExecute after the cooldown, there is no timer.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	lastFail  time.Time

	now func() time.Time
}

func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now}
}

func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFail) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.successes = 0
	}
	return b.state != Open
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFail = b.now()
	switch b.state {
	case HalfOpen:
		// one bad trial call re-opens and restarts the cooldown clock
		b.state = Open
		b.successes = 0
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
		}
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFail) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.successes = 0
	}
	return b.state
}
