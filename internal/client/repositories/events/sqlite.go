package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/dbx"
	"github.com/trialware/diarysync/internal/event"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a repository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const eventColumns = `event_id, aggregate_id, event_type, schema_version, payload,
	causation_id, device_uuid, actor_id, actor_role, client_timestamp,
	base_version, sequence, server_timestamp, prev_hash, hash, hash_alg`

func (r *SQLiteRepository) Append(ctx context.Context, e *event.Event) error {
	query := `INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`

	var seq any
	var serverTS any
	if e.Confirmed() {
		seq = e.Sequence
		serverTS = formatTime(e.ServerTimestamp)
	}
	_, err := r.db.ExecContext(ctx, query,
		e.EventID, e.AggregateID, e.Type, e.SchemaVersion, []byte(e.Payload),
		e.CausationID, e.DeviceUUID, e.ActorID, e.ActorRole,
		e.ClientTimestamp.Format(time.RFC3339Nano),
		e.BaseVersion, seq, serverTS, e.PrevHash, e.Hash, e.HashAlg)
	if err != nil {
		return fmt.Errorf("%w: failed to append event: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) ConfirmServerFields(ctx context.Context, eventID string, f ServerFields) error {
	query := `UPDATE events
		SET sequence = ?, server_timestamp = ?, prev_hash = ?, hash = ?, hash_alg = ?
		WHERE event_id = ? AND sequence IS NULL`
	res, err := r.db.ExecContext(ctx, query,
		f.Sequence, f.ServerTimestamp, f.PrevHash, f.Hash, f.HashAlg, eventID)
	if err != nil {
		return fmt.Errorf("%w: failed to confirm event %s: %v", common.ErrStore, eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", common.ErrStore, err)
	}
	if n == 0 {
		var exists int
		if scanErr := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: event %s", common.ErrNotFound, eventID)
			}
			return fmt.Errorf("%w: %v", common.ErrStore, scanErr)
		}
		return fmt.Errorf("%w: event %s is already confirmed", common.ErrImmutable, eventID)
	}
	return nil
}

func (r *SQLiteRepository) MarkSuperseded(ctx context.Context, eventID, supersededBy string) error {
	query := `UPDATE events SET superseded_by = ?
		WHERE event_id = ? AND sequence IS NULL`
	res, err := r.db.ExecContext(ctx, query, supersededBy, eventID)
	if err != nil {
		return fmt.Errorf("%w: failed to supersede event %s: %v", common.ErrStore, eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", common.ErrStore, err)
	}
	if n == 0 {
		var exists int
		if scanErr := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return fmt.Errorf("%w: event %s", common.ErrNotFound, eventID)
			}
			return fmt.Errorf("%w: %v", common.ErrStore, scanErr)
		}
		return fmt.Errorf("%w: event %s is confirmed history", common.ErrImmutable, eventID)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, eventID string) (*event.Event, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", common.ErrNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return e, nil
}

func (r *SQLiteRepository) ForEach(ctx context.Context, aggregateID string, fromSequence int64, fn func(*event.Event) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE aggregate_id = ? AND sequence IS NOT NULL AND sequence >= ?
		 ORDER BY sequence ASC`, aggregateID, fromSequence)
	if err != nil {
		return fmt.Errorf("%w: failed to select events: %v", common.ErrStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrStore, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) EventsFor(ctx context.Context, aggregateID string, fromSequence int64) ([]*event.Event, error) {
	var result []*event.Event
	err := r.ForEach(ctx, aggregateID, fromSequence, func(e *event.Event) error {
		result = append(result, e)
		return nil
	})
	return result, err
}

func (r *SQLiteRepository) PendingFor(ctx context.Context, aggregateID string) ([]*event.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE aggregate_id = ? AND sequence IS NULL AND superseded_by = ''
		 ORDER BY rowid ASC`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select pending events: %v", common.ErrStore, err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return result, nil
}

func (r *SQLiteRepository) Aggregates(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT aggregate_id FROM events ORDER BY aggregate_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list aggregates: %v", common.ErrStore, err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return result, nil
}

func (r *SQLiteRepository) LastSequence(ctx context.Context, aggregateID string) (int64, error) {
	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read last sequence: %v", common.ErrStore, err)
	}
	return seq.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var e event.Event
	var payload []byte
	var clientTS string
	var seq sql.NullInt64
	var serverTS sql.NullString
	if err := row.Scan(
		&e.EventID, &e.AggregateID, &e.Type, &e.SchemaVersion, &payload,
		&e.CausationID, &e.DeviceUUID, &e.ActorID, &e.ActorRole, &clientTS,
		&e.BaseVersion, &seq, &serverTS, &e.PrevHash, &e.Hash, &e.HashAlg,
	); err != nil {
		return nil, err
	}
	e.Payload = payload

	ts, err := time.Parse(time.RFC3339Nano, clientTS)
	if err != nil {
		return nil, fmt.Errorf("bad client_timestamp: %w", err)
	}
	e.ClientTimestamp = ts

	if seq.Valid {
		e.Sequence = seq.Int64
	}
	if serverTS.Valid && serverTS.String != "" {
		sts, err := time.Parse(time.RFC3339Nano, serverTS.String)
		if err != nil {
			return nil, fmt.Errorf("bad server_timestamp: %w", err)
		}
		e.ServerTimestamp = &sts
	}
	return &e, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
