package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusStopped      Status = "STOPPED"
	StatusStarting     Status = "STARTING"
	StatusAwaitingAuth Status = "AWAITING_AUTH"
	StatusWorking      Status = "WORKING"
	StatusFailed       Status = "FAILED"
	StatusConflict     Status = "CONFLICT"
)

type AuthMethod string

const (
	AuthQR    AuthMethod = "qr"
	AuthPhone AuthMethod = "phone"
)

var ErrInvalidTransition = errors.New("invalid session transition")

var allowedTransitions = map[Status][]Status{
	StatusStopped:      {StatusStarting},
	StatusStarting:     {StatusAwaitingAuth, StatusWorking, StatusFailed, StatusStopped, StatusConflict},
	StatusAwaitingAuth: {StatusWorking, StatusStopped, StatusFailed, StatusStarting},
	StatusWorking:      {StatusFailed, StatusAwaitingAuth, StatusStopped, StatusConflict, StatusStarting},
	StatusFailed:       {StatusStarting, StatusStopped},
	StatusConflict:     {StatusStarting, StatusStopped},
}

// CanTransition reports whether from → to is a defined transition.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of the session record.
type Snapshot struct {
	Account           string
	Status            Status
	Ready             bool
	LastError         string
	ReconnectAttempts int
	AuthMethod        AuthMethod
	Version           uint64
	UpdatedAt         time.Time
}

type Transition struct {
	Account       string
	From          Status
	To            Status
	Reason        string
	At            time.Time
	Authenticated bool
}

// Machine owns one session record. Transitions are serialized; observers run
// synchronously in registration order after the lock is released.
type Machine struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	snap      Snapshot
	observers []func(Transition)
	now       func() time.Time
}

func NewMachine(account string) *Machine {
	m := &Machine{now: time.Now}
	m.snap = Snapshot{
		Account:    account,
		Status:     StatusStopped,
		AuthMethod: AuthQR,
		UpdatedAt:  m.now(),
	}
	return m
}

// Subscribe registers an observer. Observers must not call Transition
// synchronously.
func (m *Machine) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Machine) Status() Status {
	return m.Snapshot().Status
}

// Version increments on every applied transition.
func (m *Machine) Version() uint64 {
	return m.Snapshot().Version
}

func (m *Machine) Transition(to Status, reason string) error {
	return m.apply(to, reason, 0, false)
}

// TransitionIfVersion applies the transition only when no other transition has
// happened since version was observed. It returns false when the result is stale.
func (m *Machine) TransitionIfVersion(version uint64, to Status, reason string) (bool, error) {
	err := m.apply(to, reason, version, true)
	if errors.Is(err, errStale) {
		return false, nil
	}
	return err == nil, err
}

var errStale = errors.New("stale transition")

func (m *Machine) apply(to Status, reason string, version uint64, checkVersion bool) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if checkVersion && m.snap.Version != version {
		m.mu.Unlock()
		return errStale
	}
	from := m.snap.Status
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := m.now()
	m.snap.Status = to
	m.snap.Ready = to == StatusWorking
	m.snap.Version++
	m.snap.UpdatedAt = now
	switch to {
	case StatusWorking:
		m.snap.LastError = ""
	case StatusFailed, StatusConflict:
		if reason != "" {
			m.snap.LastError = reason
		}
	}
	tr := Transition{
		Account:       m.snap.Account,
		From:          from,
		To:            to,
		Reason:        reason,
		At:            now,
		Authenticated: from == StatusAwaitingAuth && to == StatusWorking,
	}
	observers := append([]func(Transition){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(tr)
	}
	return nil
}

func (m *Machine) SetAuthMethod(method AuthMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.AuthMethod = method
}

func (m *Machine) SetLastError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.LastError = msg
}

func (m *Machine) SetAttempts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.ReconnectAttempts = n
}
