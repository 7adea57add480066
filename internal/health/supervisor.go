package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/brainwire/internal/monitor"
	"github.com/foxseedlab/brainwire/internal/store"
	"github.com/foxseedlab/brainwire/internal/transport"
)

const (
	MinHealthInterval = time.Minute

	probeTimeout = 15 * time.Second
	sweepTimeout = 30 * time.Second
)

// Prober is the part of the transport used for liveness checks.
type Prober interface {
	Ping(ctx context.Context) error
	AssertPresence(ctx context.Context) error
}

type Sweeper interface {
	SetTracked(keys []string)
	Sweep(now time.Time, retention time.Duration, keepRecent int) store.SweepStats
}

type Config struct {
	HealthInterval        time.Duration
	SoftRecoveryThreshold int
	SweepInterval         time.Duration
	Retention             time.Duration
	KeepRecent            int
}

// ProbeResult reports what one probe did.
type ProbeResult string

const (
	ProbeSkipped   ProbeResult = "skipped"
	ProbeHealthy   ProbeResult = "healthy"
	ProbeSoft      ProbeResult = "soft_recovery"
	ProbeEscalated ProbeResult = "escalated"
)

// Supervisor runs the liveness probe and the memory sweep for one account.
type Supervisor struct {
	account  string
	cfg      Config
	prober   Prober
	working  func() bool
	escalate func(transport.Disconnect)
	sweeper  Sweeper
	monitors monitor.Source
	now      func() time.Time

	mu       sync.Mutex
	failures int
}

// NewSupervisor builds a supervisor. escalate receives a keepalive disconnect
// once consecutive probe failures reach the soft recovery threshold.
func NewSupervisor(account string, cfg Config, prober Prober, working func() bool, escalate func(transport.Disconnect), sweeper Sweeper, monitors monitor.Source) *Supervisor {
	if cfg.HealthInterval < MinHealthInterval {
		cfg.HealthInterval = MinHealthInterval
	}
	if cfg.SoftRecoveryThreshold <= 0 {
		cfg.SoftRecoveryThreshold = 3
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &Supervisor{
		account:  account,
		cfg:      cfg,
		prober:   prober,
		working:  working,
		escalate: escalate,
		sweeper:  sweeper,
		monitors: monitors,
		now:      time.Now,
	}
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	probe := time.NewTicker(s.cfg.HealthInterval)
	defer probe.Stop()
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			s.Probe(ctx)
		case <-sweep.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Supervisor) Probe(ctx context.Context) ProbeResult {
	if !s.working() {
		s.reset()
		return ProbeSkipped
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := s.prober.Ping(pctx)
	cancel()
	if err == nil {
		s.reset()
		return ProbeHealthy
	}

	s.mu.Lock()
	s.failures++
	failures := s.failures
	if failures >= s.cfg.SoftRecoveryThreshold {
		s.failures = 0
	}
	s.mu.Unlock()

	if failures < s.cfg.SoftRecoveryThreshold {
		slog.Warn("health probe failed; asserting presence", "account", s.account, "failures", failures, "error", err)
		rctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if rerr := s.prober.AssertPresence(rctx); rerr != nil {
			slog.Warn("soft recovery failed", "account", s.account, "error", rerr)
		}
		return ProbeSoft
	}

	slog.Error("health probe failed repeatedly; reconnecting", "account", s.account, "failures", failures, "error", err)
	s.escalate(transport.Disconnect{
		Code:    transport.DisconnectKeepAlive,
		Message: fmt.Sprintf("health probe failed %d times", failures),
		Err:     err,
	})
	return ProbeEscalated
}

// Failures returns the current consecutive failure count.
func (s *Supervisor) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Supervisor) reset() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// Sweep refreshes the tracked chat set from the monitor source and evicts old
// messages. A failed lookup keeps the previous tracked set.
func (s *Supervisor) Sweep(ctx context.Context) store.SweepStats {
	if s.monitors != nil {
		mctx, cancel := context.WithTimeout(ctx, sweepTimeout)
		tracked, err := s.monitors.TrackedChats(mctx, s.account)
		cancel()
		if err != nil {
			slog.Warn("failed to refresh tracked chats", "account", s.account, "error", err)
		} else {
			s.sweeper.SetTracked(tracked)
		}
	}
	stats := s.sweeper.Sweep(s.now(), s.cfg.Retention, s.cfg.KeepRecent)
	if stats.MessagesEvicted > 0 {
		slog.Info("swept message store", "account", s.account, "chats", stats.ChatsSwept, "evicted", stats.MessagesEvicted)
	}
	return stats
}
