package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/transport"
)

var ErrUnknownAccount = errors.New("unknown account")

// AdapterFactory builds the transport adapter of one account.
type AdapterFactory func(account string) (transport.Adapter, error)

// Manager owns one Engine per configured account.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	wg sync.WaitGroup
}

func NewManager(accounts []string, cfg Config, factory AdapterFactory, deps Deps) (*Manager, error) {
	m := &Manager{engines: make(map[string]*Engine, len(accounts))}
	for _, account := range accounts {
		if account == "" {
			continue
		}
		if _, ok := m.engines[account]; ok {
			return nil, fmt.Errorf("duplicate account %q", account)
		}
		adapter, err := factory(account)
		if err != nil {
			return nil, fmt.Errorf("failed to build transport for %s: %w", account, err)
		}
		m.engines[account] = NewEngine(account, adapter, cfg, deps)
	}
	if len(m.engines) == 0 {
		return nil, errors.New("no accounts configured")
	}
	return m, nil
}

// Run starts every engine and connects every session. It blocks until ctx is
// done and all engines have released their resources.
func (m *Manager) Run(ctx context.Context) {
	for _, e := range m.list() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			e.Run(ctx)
		}()
		go func() {
			if err := e.Start(ctx); err != nil {
				slog.Error("failed to bootstrap session", "account", e.Account(), "error", err)
			}
		}()
	}
	<-ctx.Done()
	m.wg.Wait()
}

// Shutdown disconnects every transport without logging out.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, e := range m.list() {
		if err := e.adapter.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Account(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Engine(account string) (*Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.engines[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return e, nil
}

func (m *Manager) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.engines))
	for account := range m.engines {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Snapshots() []Snapshot {
	engines := m.list()
	out := make([]Snapshot, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Snapshot())
	}
	return out
}

// OnFreshQR registers fn on every engine.
func (m *Manager) OnFreshQR(fn func(account string, art pairing.Artifact)) {
	for _, e := range m.list() {
		account := e.Account()
		e.OnFreshQR(func(art pairing.Artifact) { fn(account, art) })
	}
}

func (m *Manager) list() []*Engine {
	accounts := m.Accounts()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Engine, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, m.engines[a])
	}
	return out
}
