package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/foxseedlab/brainwire/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   transport.Disconnect
		want Cause
	}{
		{"logged out code", transport.Disconnect{Code: transport.DisconnectLoggedOut}, CauseLoggedOut},
		{"replaced code", transport.Disconnect{Code: transport.DisconnectReplaced}, CauseConflict},
		{"outdated code", transport.Disconnect{Code: transport.DisconnectClientOutdated}, CauseProtocolMismatch},
		{"keepalive code", transport.Disconnect{Code: transport.DisconnectKeepAlive}, CauseTimeout},
		{"deadline error", transport.Disconnect{Err: fmt.Errorf("dial: %w", context.DeadlineExceeded)}, CauseTimeout},
		{"401 message", transport.Disconnect{Code: transport.DisconnectConnectFailure, Message: "connect failure 401"}, CauseLoggedOut},
		{"conflict message", transport.Disconnect{Message: "stream:error conflict"}, CauseConflict},
		{"version message", transport.Disconnect{Message: "client version outdated (405)"}, CauseProtocolMismatch},
		{"timed out message", transport.Disconnect{Err: errors.New("websocket timed out")}, CauseTimeout},
		{"plain network", transport.Disconnect{Code: transport.DisconnectNetwork, Message: "connection reset by peer"}, CauseNetwork},
		{"empty", transport.Disconnect{}, CauseNetwork},
		{"ban code", transport.Disconnect{Code: transport.DisconnectBanned, Message: "banned until tomorrow"}, CauseBanned},
		{"ban message", transport.Disconnect{Code: transport.DisconnectConnectFailure, Message: "connect failure 402: temporary ban"}, CauseBanned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.in); got != tt.want {
				t.Fatalf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecide_LoggedOutClearsAndStops(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d := p.Decide(CauseLoggedOut, 1)
	if d.Outcome != OutcomeAwaitAuth || !d.ClearCredentials || d.Delay != 0 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_BanFailsWithoutRetry(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d := p.Decide(CauseBanned, 1)
	if d.Outcome != OutcomeFailed || d.Delay != 0 || d.ClearCredentials {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestDecide_ConflictGivesUpAfterThreeAttempts(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	tracker := NewTracker(time.Hour)

	retries := 0
	var last Decision
	for i := 0; i < 10; i++ {
		last = p.Decide(CauseConflict, tracker.Record(CauseConflict))
		if last.Outcome != OutcomeRetry {
			break
		}
		if !last.ClearCredentials {
			t.Fatalf("expected credential clear on conflict retry %d", last.Attempt)
		}
		retries++
	}
	if retries != 3 {
		t.Fatalf("expected 3 retries, got %d", retries)
	}
	if last.Outcome != OutcomeConflict {
		t.Fatalf("expected terminal conflict, got %s", last.Outcome)
	}
}

func TestDecide_ConflictDelayIsMinutesScale(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	d1 := p.Decide(CauseConflict, 1)
	d2 := p.Decide(CauseConflict, 2)
	if d1.Delay < time.Minute || d2.Delay <= d1.Delay {
		t.Fatalf("unexpected conflict delays: %v, %v", d1.Delay, d2.Delay)
	}
}

func TestDecide_TimeoutIsProgressive(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPolicy(cfg)
	for attempt := 1; attempt <= cfg.TimeoutFastAttempts; attempt++ {
		d := p.Decide(CauseTimeout, attempt)
		if d.ClearCredentials || d.Delay != cfg.TimeoutFastDelay {
			t.Fatalf("attempt %d: unexpected decision %+v", attempt, d)
		}
	}
	d := p.Decide(CauseTimeout, cfg.TimeoutFastAttempts+1)
	if d.ClearCredentials || d.Delay != cfg.TimeoutSlowDelay {
		t.Fatalf("expected slow retry without clear, got %+v", d)
	}
	d = p.Decide(CauseTimeout, cfg.TimeoutSlowAttempts+1)
	if !d.ClearCredentials || d.Outcome != OutcomeRetry {
		t.Fatalf("expected escalation to credential clear, got %+v", d)
	}
	d = p.Decide(CauseTimeout, cfg.MaxAttempts+1)
	if d.Outcome != OutcomeFailed {
		t.Fatalf("expected failure after max attempts, got %+v", d)
	}
}

func TestDecide_ProtocolMismatchBounded(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	if d := p.Decide(CauseProtocolMismatch, 2); d.Outcome != OutcomeRetry || !d.ClearCredentials || d.Delay != 20*time.Second {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d := p.Decide(CauseProtocolMismatch, 4); d.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %+v", d)
	}
}

func TestExponentialDelay_MonotonicAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	for _, r := range []float64{0, 0.5, 0.999} {
		p := NewPolicy(cfg)
		p.rand = func() float64 { return r }
		prev := time.Duration(0)
		attempts := 0
		for attempt := 1; ; attempt++ {
			d := p.Decide(CauseNetwork, attempt)
			if d.Outcome != OutcomeRetry {
				break
			}
			attempts++
			if d.Delay < prev {
				t.Fatalf("rand=%v attempt %d: delay %v decreased from %v", r, attempt, d.Delay, prev)
			}
			if d.Delay > cfg.Cap {
				t.Fatalf("rand=%v attempt %d: delay %v above cap", r, attempt, d.Delay)
			}
			prev = d.Delay
		}
		if attempts != cfg.MaxAttempts {
			t.Fatalf("expected %d attempts, got %d", cfg.MaxAttempts, attempts)
		}
	}
}

func TestExponentialDelay_JitterWithinQuarter(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	p.rand = func() float64 { return 0 }
	if got := p.ExponentialDelay(3); got != 3*time.Second {
		t.Fatalf("expected 3s lower bound at attempt 3, got %v", got)
	}
	p.rand = func() float64 { return 1 }
	if got := p.ExponentialDelay(3); got != 5*time.Second {
		t.Fatalf("expected 5s upper bound at attempt 3, got %v", got)
	}
}

func TestTracker_SucceededKeepsConflictCount(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Record(CauseConflict)
	tr.Record(CauseNetwork)
	tr.Succeeded()
	if tr.Attempts(CauseNetwork) != 0 {
		t.Fatal("expected network counter reset")
	}
	if tr.Attempts(CauseConflict) != 1 {
		t.Fatal("expected conflict counter to survive a success")
	}
	tr.Reset()
	if tr.Attempts(CauseConflict) != 0 {
		t.Fatal("expected reset to clear conflict counter")
	}
}

func TestTracker_ConflictWindowDecays(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tr := NewTracker(time.Minute)
	tr.now = func() time.Time { return now }
	tr.Record(CauseConflict)
	tr.Record(CauseConflict)
	now = now.Add(2 * time.Minute)
	if got := tr.Record(CauseConflict); got != 1 {
		t.Fatalf("expected counter to restart after window, got %d", got)
	}
}

func TestScheduler_ReplaceAndCancel(t *testing.T) {
	var s Scheduler
	var fired atomic.Int32

	s.Schedule(50*time.Millisecond, func() { fired.Add(1) })
	s.Schedule(10*time.Millisecond, func() { fired.Add(10) })
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 10 {
		t.Fatalf("expected only the replacement to fire, got %d", got)
	}

	s.Schedule(20*time.Millisecond, func() { fired.Add(100) })
	if !s.Cancel() {
		t.Fatal("expected pending retry to be cancelled")
	}
	if s.Cancel() {
		t.Fatal("second cancel must be a no-op")
	}
	time.Sleep(50 * time.Millisecond)
	if got := fired.Load(); got != 10 {
		t.Fatalf("cancelled retry fired: %d", got)
	}
	if _, pending := s.Due(); pending {
		t.Fatal("expected nothing pending")
	}
}
