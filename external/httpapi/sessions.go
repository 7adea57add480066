package httpapi

import (
	"context"

	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/session"
	"github.com/foxseedlab/brainwire/internal/store"
)

// Session is the per-account surface served over HTTP.
type Session interface {
	Snapshot() session.Snapshot
	Stats() session.EngineStats
	QR(ctx context.Context) (pairing.Artifact, error)
	RequestPairing(ctx context.Context, phone string) (pairing.PairingSession, error)
	PairingStatus() (pairing.PairingState, pairing.PairingSession, error)
	Restart(ctx context.Context) error
	Stop(ctx context.Context) error
	Logout(ctx context.Context) error
	Send(ctx context.Context, chatKey, text string) (string, error)
	Chats(f store.Filter) []repository.Chat
	Messages(ctx context.Context, chatKey string, limit int) ([]repository.Message, error)
}

type Registry interface {
	Accounts() []string
	Session(account string) (Session, error)
}

type managerRegistry struct {
	m *session.Manager
}

// FromManager exposes the session manager as a Registry.
func FromManager(m *session.Manager) Registry {
	return managerRegistry{m: m}
}

func (r managerRegistry) Accounts() []string { return r.m.Accounts() }

func (r managerRegistry) Session(account string) (Session, error) {
	e, err := r.m.Engine(account)
	if err != nil {
		return nil, err
	}
	return e, nil
}
