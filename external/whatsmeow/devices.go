package whatsmeow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const createDeviceTableSQL = `CREATE TABLE IF NOT EXISTS brainwire_devices (
	account TEXT PRIMARY KEY,
	jid     TEXT NOT NULL
)`

// deviceRegistry maps accounts onto whatsmeow device JIDs so several accounts
// can share one device store.
type deviceRegistry struct {
	db *sql.DB
}

func newDeviceRegistry(ctx context.Context, db *sql.DB) (*deviceRegistry, error) {
	if _, err := db.ExecContext(ctx, createDeviceTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create device table: %w", err)
	}
	return &deviceRegistry{db: db}, nil
}

// Lookup returns "" when the account has no paired device.
func (r *deviceRegistry) Lookup(ctx context.Context, account string) (string, error) {
	var jid string
	err := r.db.QueryRowContext(ctx, `SELECT jid FROM brainwire_devices WHERE account = $1`, account).Scan(&jid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up device: %w", err)
	}
	return jid, nil
}

func (r *deviceRegistry) Save(ctx context.Context, account, jid string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO brainwire_devices (account, jid) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET jid = excluded.jid`, account, jid)
	if err != nil {
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

func (r *deviceRegistry) Delete(ctx context.Context, account string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM brainwire_devices WHERE account = $1`, account); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}
