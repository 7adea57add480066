package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoPairingSession = errors.New("no active pairing session")
	ErrInvalidPhone     = errors.New("phone number must contain only digits")
)

type PairingState string

const (
	PairingNone      PairingState = "none"
	PairingPending   PairingState = "pending"
	PairingCompleted PairingState = "completed"
)

type CodeSource interface {
	RequestPairingCode(ctx context.Context, phone string) (string, error)
}

type PairingSession struct {
	Phone       string
	Code        string
	RequestedAt time.Time
	ExpiresAt   time.Time
	CompletedAt time.Time
}

// PairingManager tracks the phone-code login path. Completion is reported by the
// session engine through Complete once the network accepts the code; the manager
// never completes a pairing on its own.
type PairingManager struct {
	src    CodeSource
	expiry time.Duration
	now    func() time.Time

	mu      sync.Mutex
	current *PairingSession
}

func NewPairingManager(src CodeSource, expiry time.Duration) *PairingManager {
	return &PairingManager{src: src, expiry: expiry, now: time.Now}
}

func (m *PairingManager) Request(ctx context.Context, phone string) (PairingSession, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return PairingSession{}, ErrInvalidPhone
	}
	code, err := m.src.RequestPairingCode(ctx, phone)
	if err != nil {
		return PairingSession{}, fmt.Errorf("failed to request pairing code: %w", err)
	}
	now := m.now()
	ps := PairingSession{
		Phone:       phone,
		Code:        code,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.expiry),
	}
	m.mu.Lock()
	m.current = &ps
	m.mu.Unlock()
	return ps, nil
}

// Check reports the state of the most recent pairing request. An expired,
// uncompleted request counts as no session.
func (m *PairingManager) Check() (PairingState, PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return PairingNone, PairingSession{}, ErrNoPairingSession
	}
	ps := *m.current
	if !ps.CompletedAt.IsZero() {
		return PairingCompleted, ps, nil
	}
	if !m.now().Before(ps.ExpiresAt) {
		m.current = nil
		return PairingNone, PairingSession{}, ErrNoPairingSession
	}
	return PairingPending, ps, nil
}

// Complete marks the pending request as accepted. It is a no-op without one.
func (m *PairingManager) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.CompletedAt.IsZero() {
		return false
	}
	m.current.CompletedAt = m.now()
	return true
}

func (m *PairingManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

// NormalizePhone strips formatting characters and returns "" when anything but
// digits remains.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(phone)
	if phone == "" {
		return ""
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return phone
}
