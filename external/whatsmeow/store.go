package whatsmeow

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "pgx"
)

// Store is the device store shared by every account of the process.
type Store struct {
	db        *sql.DB
	container *sqlstore.Container
	devices   *deviceRegistry
}

// OpenStore opens the device database. dialect is sqlite (modernc, pure Go) or
// pgx.
func OpenStore(ctx context.Context, dialect, dsn string, log waLog.Logger) (*Store, error) {
	driver, storeDialect, err := drivers(dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	if driver == DialectSQLite {
		// sqlite allows one writer; whatsmeow writes from several goroutines.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	container := sqlstore.NewWithDB(db, storeDialect, log)
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to upgrade device store: %w", err)
	}
	devices, err := newDeviceRegistry(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, container: container, devices: devices}, nil
}

func drivers(dialect string) (driver, storeDialect string, err error) {
	switch dialect {
	case DialectSQLite, "":
		return DialectSQLite, "sqlite3", nil
	case DialectPostgres, "postgres":
		return DialectPostgres, "postgres", nil
	default:
		return "", "", fmt.Errorf("unsupported device store dialect %q", dialect)
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}
