package httpapi

import (
	"time"

	"github.com/foxseedlab/brainwire/internal/pairing"
	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/foxseedlab/brainwire/internal/session"
)

type sessionResponse struct {
	Account           string              `json:"account"`
	Status            session.Status      `json:"status"`
	Description       string              `json:"description"`
	Ready             bool                `json:"ready"`
	LastError         string              `json:"lastError,omitempty"`
	ReconnectAttempts int                 `json:"reconnectAttempts"`
	AuthMethod        session.AuthMethod  `json:"authMethod,omitempty"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	Stats             session.EngineStats `json:"stats"`
}

func toSessionResponse(s Session) sessionResponse {
	snap := s.Snapshot()
	return sessionResponse{
		Account:           snap.Account,
		Status:            snap.Status,
		Description:       session.StatusDescription(snap.Status),
		Ready:             snap.Ready,
		LastError:         snap.LastError,
		ReconnectAttempts: snap.ReconnectAttempts,
		AuthMethod:        snap.AuthMethod,
		UpdatedAt:         snap.UpdatedAt,
		Stats:             s.Stats(),
	}
}

type pairingResponse struct {
	State       pairing.PairingState `json:"state"`
	Phone       string               `json:"phone,omitempty"`
	Code        string               `json:"code,omitempty"`
	ExpiresAt   *time.Time           `json:"expiresAt,omitempty"`
	CompletedAt *time.Time           `json:"completedAt,omitempty"`
}

func toPairingResponse(state pairing.PairingState, ps pairing.PairingSession) pairingResponse {
	resp := pairingResponse{State: state, Phone: ps.Phone, Code: ps.Code}
	if !ps.ExpiresAt.IsZero() {
		resp.ExpiresAt = &ps.ExpiresAt
	}
	if !ps.CompletedAt.IsZero() {
		resp.CompletedAt = &ps.CompletedAt
	}
	return resp
}

type chatResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	IsGroup          bool   `json:"isGroup"`
	ParticipantCount int    `json:"participantCount,omitempty"`
	LastActivity     int64  `json:"lastActivity,omitempty"`
}

func toChatResponses(chats []repository.Chat) []chatResponse {
	out := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatResponse{
			ID:               c.ID,
			Name:             c.DisplayName,
			IsGroup:          c.IsGroup,
			ParticipantCount: c.ParticipantCount,
			LastActivity:     c.LastActivity,
		})
	}
	return out
}

type messageResponse struct {
	ID        string               `json:"id"`
	ChatID    string               `json:"chatId"`
	SenderID  string               `json:"senderId,omitempty"`
	Body      string               `json:"body"`
	Timestamp int64                `json:"timestamp"`
	Direction repository.Direction `json:"direction"`
	MediaKind repository.MediaKind `json:"mediaKind,omitempty"`
	Links     []string             `json:"links,omitempty"`
}

func toMessageResponses(msgs []repository.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ID:        m.ID,
			ChatID:    m.ChatID,
			SenderID:  m.SenderID,
			Body:      m.Body,
			Timestamp: m.Timestamp,
			Direction: m.Direction,
			MediaKind: m.MediaKind,
			Links:     m.Links,
		})
	}
	return out
}
