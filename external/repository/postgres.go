package repository

import (
	"context"

	"github.com/foxseedlab/brainwire/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultListLimit = 100

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) SaveChat(ctx context.Context, chat repository.Chat) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (account, id, display_name, is_group, participant_count, last_activity)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (account, id) DO UPDATE SET
		   display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), chats.display_name),
		   is_group = chats.is_group OR EXCLUDED.is_group,
		   participant_count = CASE WHEN EXCLUDED.participant_count > 0 THEN EXCLUDED.participant_count ELSE chats.participant_count END,
		   last_activity = GREATEST(chats.last_activity, EXCLUDED.last_activity),
		   updated_at = NOW()`,
		chat.Account, chat.ID, chat.DisplayName, chat.IsGroup, chat.ParticipantCount, chat.LastActivity)
	return err
}

func (r *PostgresRepository) SaveMessage(ctx context.Context, msg repository.Message) error {
	links := msg.Links
	if links == nil {
		links = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (account, id, chat_id, sender_id, body, sent_at, direction, media_kind, links)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::message_direction, $8, $9)
		 ON CONFLICT (account, id) DO NOTHING`,
		msg.Account, msg.ID, msg.ChatID, msg.SenderID, msg.Body, msg.Timestamp, string(msg.Direction), string(msg.MediaKind), links)
	return err
}

func (r *PostgresRepository) ListMessages(ctx context.Context, input repository.ListMessagesInput) ([]repository.Message, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT account, id, chat_id, sender_id, body, sent_at, direction::text, media_kind, links
		 FROM messages WHERE account = $1 AND chat_id = $2
		 ORDER BY sent_at DESC LIMIT $3`,
		input.Account, input.ChatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Message
	for rows.Next() {
		var m repository.Message
		var direction, mediaKind string
		if err := rows.Scan(&m.Account, &m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.Timestamp, &direction, &mediaKind, &m.Links); err != nil {
			return nil, err
		}
		m.Direction = repository.Direction(direction)
		m.MediaKind = repository.MediaKind(mediaKind)
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListActiveMonitors(ctx context.Context, account string, chatKeys []string) ([]repository.Monitor, error) {
	if len(chatKeys) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, account, chat_id, process_voice_notes, capture_links, save_all_images, send_feedback, active
		 FROM monitors WHERE active AND (account = $1 OR account = '') AND chat_id = ANY($2)
		 ORDER BY created_at ASC`,
		account, chatKeys)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (repository.Monitor, error) {
		var m repository.Monitor
		err := row.Scan(&m.ID, &m.UserID, &m.Account, &m.ChatID,
			&m.Features.ProcessVoiceNotes, &m.Features.CaptureLinks, &m.Features.SaveAllImages, &m.Features.SendFeedback, &m.Active)
		return m, err
	})
}

func (r *PostgresRepository) ListTrackedChatIDs(ctx context.Context, account string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT chat_id FROM monitors WHERE active AND (account = $1 OR account = '')`,
		account)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
