package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
)

type Cause string

const (
	CauseLoggedOut        Cause = "logged_out"
	CauseConflict         Cause = "conflict"
	CauseProtocolMismatch Cause = "protocol_mismatch"
	CauseBanned           Cause = "banned"
	CauseTimeout          Cause = "timeout"
	CauseNetwork          Cause = "network"
)

// Outcome is what the session should do after a disconnect.
type Outcome string

const (
	OutcomeRetry     Outcome = "retry"
	OutcomeAwaitAuth Outcome = "await_auth"
	OutcomeFailed    Outcome = "failed"
	OutcomeConflict  Outcome = "conflict"
)

const growth = 2.0

type Config struct {
	Base                time.Duration
	Cap                 time.Duration
	MaxAttempts         int
	ConflictDelay       time.Duration
	ConflictMaxAttempts int
	ConflictWindow      time.Duration
	ProtocolDelay       time.Duration
	ProtocolMaxAttempts int
	TimeoutFastDelay    time.Duration
	TimeoutFastAttempts int
	TimeoutSlowDelay    time.Duration
	TimeoutSlowAttempts int
	TimeoutClearDelay   time.Duration
	Jitter              float64
}

func DefaultConfig() Config {
	return Config{
		Base:                time.Second,
		Cap:                 5 * time.Minute,
		MaxAttempts:         10,
		ConflictDelay:       2 * time.Minute,
		ConflictMaxAttempts: 3,
		ConflictWindow:      30 * time.Minute,
		ProtocolDelay:       10 * time.Second,
		ProtocolMaxAttempts: 3,
		TimeoutFastDelay:    2 * time.Second,
		TimeoutFastAttempts: 3,
		TimeoutSlowDelay:    30 * time.Second,
		TimeoutSlowAttempts: 6,
		TimeoutClearDelay:   time.Minute,
		Jitter:              0.25,
	}
}

type Decision struct {
	Cause            Cause
	Attempt          int
	Outcome          Outcome
	Delay            time.Duration
	ClearCredentials bool
	Reason           string
}

// Classify maps a disconnect onto a recovery class. Adapter codes win over message
// heuristics.
func Classify(d transport.Disconnect) Cause {
	switch d.Code {
	case transport.DisconnectLoggedOut:
		return CauseLoggedOut
	case transport.DisconnectReplaced:
		return CauseConflict
	case transport.DisconnectClientOutdated:
		return CauseProtocolMismatch
	case transport.DisconnectKeepAlive:
		return CauseTimeout
	case transport.DisconnectBanned:
		return CauseBanned
	}
	if d.Err != nil && errors.Is(d.Err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	msg := strings.ToLower(d.Message)
	if d.Err != nil {
		msg += " " + strings.ToLower(d.Err.Error())
	}
	switch {
	case containsAny(msg, "temporary ban", "temporarily banned", "402"):
		return CauseBanned
	case containsAny(msg, "logged out", "logout", "401", "unauthorized"):
		return CauseLoggedOut
	case containsAny(msg, "conflict", "replaced", "440"):
		return CauseConflict
	case containsAny(msg, "outdated", "405", "protocol", "version mismatch"):
		return CauseProtocolMismatch
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return CauseTimeout
	default:
		return CauseNetwork
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Policy turns (cause, attempt) into a Decision. Attempt starts at 1.
type Policy struct {
	cfg  Config
	rand func() float64
}

func NewPolicy(cfg Config) *Policy {
	return &Policy{cfg: cfg, rand: rand.Float64}
}

func (p *Policy) Decide(cause Cause, attempt int) Decision {
	d := Decision{Cause: cause, Attempt: attempt}
	switch cause {
	case CauseLoggedOut:
		d.Outcome = OutcomeAwaitAuth
		d.ClearCredentials = true
		d.Reason = "logged out by remote network"
	case CauseConflict:
		d.ClearCredentials = true
		if attempt > p.cfg.ConflictMaxAttempts {
			d.Outcome = OutcomeConflict
			d.ClearCredentials = false
			d.Reason = fmt.Sprintf("session conflict persisted after %d attempts; operator action required", p.cfg.ConflictMaxAttempts)
			return d
		}
		d.Outcome = OutcomeRetry
		d.Delay = p.cfg.ConflictDelay * time.Duration(attempt)
		d.Reason = "another session is using the same credentials"
	case CauseBanned:
		// Reconnecting during a ban extends it.
		d.Outcome = OutcomeFailed
		d.Reason = "account temporarily banned by remote network; restart once the ban expires"
	case CauseProtocolMismatch:
		if attempt > p.cfg.ProtocolMaxAttempts {
			d.Outcome = OutcomeFailed
			d.Reason = fmt.Sprintf("protocol mismatch persisted after %d attempts", p.cfg.ProtocolMaxAttempts)
			return d
		}
		d.Outcome = OutcomeRetry
		d.ClearCredentials = true
		d.Delay = p.cfg.ProtocolDelay * time.Duration(attempt)
		d.Reason = "transport version incompatible with remote network"
	case CauseTimeout:
		switch {
		case attempt > p.cfg.MaxAttempts:
			d.Outcome = OutcomeFailed
			d.Reason = fmt.Sprintf("timeouts persisted after %d attempts", p.cfg.MaxAttempts)
		case attempt <= p.cfg.TimeoutFastAttempts:
			d.Outcome = OutcomeRetry
			d.Delay = p.cfg.TimeoutFastDelay
			d.Reason = "timeout; quick retry"
		case attempt <= p.cfg.TimeoutSlowAttempts:
			d.Outcome = OutcomeRetry
			d.Delay = p.cfg.TimeoutSlowDelay
			d.Reason = "repeated timeout; slow retry"
		default:
			d.Outcome = OutcomeRetry
			d.ClearCredentials = true
			d.Delay = p.cfg.TimeoutClearDelay
			d.Reason = "persistent timeout; clearing credentials"
		}
	default:
		d.Cause = CauseNetwork
		if attempt > p.cfg.MaxAttempts {
			d.Outcome = OutcomeFailed
			d.Reason = fmt.Sprintf("network errors persisted after %d attempts", p.cfg.MaxAttempts)
			return d
		}
		d.Outcome = OutcomeRetry
		d.Delay = p.ExponentialDelay(attempt)
		d.Reason = "network error"
	}
	return d
}

// ExponentialDelay is min(base × 2^(attempt-1), cap) with ±jitter. Once the raw
// delay reaches the cap no jitter is applied, so delays never decrease.
func (p *Policy) ExponentialDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.cfg.Base) * math.Pow(growth, float64(attempt-1))
	limit := float64(p.cfg.Cap)
	if raw >= limit {
		return p.cfg.Cap
	}
	factor := 1 + (p.rand()*2-1)*p.cfg.Jitter
	return time.Duration(math.Min(raw*factor, limit))
}

// Tracker counts consecutive failures per cause for one session.
type Tracker struct {
	mu           sync.Mutex
	attempts     map[Cause]int
	lastConflict time.Time
	window       time.Duration
	now          func() time.Time
}

func NewTracker(conflictWindow time.Duration) *Tracker {
	return &Tracker{attempts: make(map[Cause]int), window: conflictWindow, now: time.Now}
}

// Record returns the attempt number for this failure.
func (t *Tracker) Record(cause Cause) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cause == CauseConflict {
		now := t.now()
		if !t.lastConflict.IsZero() && t.window > 0 && now.Sub(t.lastConflict) > t.window {
			t.attempts[CauseConflict] = 0
		}
		t.lastConflict = now
	}
	t.attempts[cause]++
	return t.attempts[cause]
}

// Succeeded resets every counter except conflict, which only decays by window or
// an explicit Reset; a competing session can let us connect briefly before
// replacing us again.
func (t *Tracker) Succeeded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for cause := range t.attempts {
		if cause != CauseConflict {
			delete(t.attempts, cause)
		}
	}
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = make(map[Cause]int)
	t.lastConflict = time.Time{}
}

func (t *Tracker) Attempts(cause Cause) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[cause]
}

// Scheduler holds at most one pending retry. Scheduling replaces the pending one.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	due   time.Time
}

func (s *Scheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.due = time.Now().Add(delay)
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.due = time.Time{}
		s.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending retry, if any. Safe to call repeatedly.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.due = time.Time{}
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}

// Due returns when the pending retry fires and whether one is pending.
func (s *Scheduler) Due() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, s.timer != nil
}
