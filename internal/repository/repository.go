package repository

import (
	"context"
)

type ListMessagesInput struct {
	Account string
	ChatID  string
	Limit   int
}

// ArchiveRepository persists chats and messages beyond the in-memory window.
type ArchiveRepository interface {
	SaveChat(ctx context.Context, chat Chat) error
	SaveMessage(ctx context.Context, msg Message) error
	ListMessages(ctx context.Context, input ListMessagesInput) ([]Message, error)
}

type MonitorRepository interface {
	// ListActiveMonitors returns active monitors of an account whose chat id is any
	// of chatKeys.
	ListActiveMonitors(ctx context.Context, account string, chatKeys []string) ([]Monitor, error)
	ListTrackedChatIDs(ctx context.Context, account string) ([]string, error)
}

type Repository interface {
	ArchiveRepository
	MonitorRepository
}

// Backend holds the configured persistence. Both fields are nil when no
// database is configured.
type Backend struct {
	Archive  ArchiveRepository
	Monitors MonitorRepository
	Close    func()
}
