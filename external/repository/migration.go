package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE message_direction AS ENUM ('incoming', 'outgoing'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS chats (
		account TEXT NOT NULL,
		id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		is_group BOOLEAN NOT NULL DEFAULT FALSE,
		participant_count INTEGER NOT NULL DEFAULT 0,
		last_activity BIGINT NOT NULL DEFAULT 0,
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account, id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		account TEXT NOT NULL,
		id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		sent_at BIGINT NOT NULL,
		direction message_direction NOT NULL DEFAULT 'incoming',
		media_kind TEXT NOT NULL DEFAULT '',
		links TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (account, chat_id, sent_at DESC)`,
	`CREATE TABLE IF NOT EXISTS monitors (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL,
		account TEXT NOT NULL DEFAULT '',
		chat_id TEXT NOT NULL,
		process_voice_notes BOOLEAN NOT NULL DEFAULT FALSE,
		capture_links BOOLEAN NOT NULL DEFAULT FALSE,
		save_all_images BOOLEAN NOT NULL DEFAULT FALSE,
		send_feedback BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_monitors_chat ON monitors (chat_id) WHERE active`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
