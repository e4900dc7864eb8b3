// Package client wires the device-local database: sqlite connection, goose
// migrations, and the repository set the services are built from.
package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/trialware/diarysync/internal/client/migrations"
	"github.com/trialware/diarysync/internal/client/repositories/conflicts"
	"github.com/trialware/diarysync/internal/client/repositories/events"
	"github.com/trialware/diarysync/internal/client/repositories/metadata"
	"github.com/trialware/diarysync/internal/client/repositories/queue"
	"github.com/trialware/diarysync/internal/client/repositories/records"
)

// Repositories bundles every repository backed by the local database.
type Repositories struct {
	Events    events.Repository
	Queue     queue.Repository
	Records   records.Repository
	Conflicts conflicts.Repository
	Metadata  metadata.Repository
	DB        *sql.DB
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens (or creates) the local database at dsn, applies
// migrations, and returns the repository set. Durability of appends relies
// on sqlite's default synchronous commit; a single write connection
// serializes appends while reads of committed data proceed concurrently.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	return &Repositories{
		Events:    events.NewSQLiteRepository(db),
		Queue:     queue.NewSQLiteRepository(db),
		Records:   records.NewSQLiteRepository(db),
		Conflicts: conflicts.NewSQLiteRepository(db),
		Metadata:  metadata.NewSQLiteRepository(db),
		DB:        db,
	}, nil
}
