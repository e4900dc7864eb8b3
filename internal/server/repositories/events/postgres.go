package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/dbx"
	"github.com/trialware/diarysync/internal/event"
)

// PostgresRepository implements Repository over a DBTX (either *sql.DB or
// *sql.Tx). Head reads take row locks, so the appending service must run
// it inside a transaction.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const eventColumns = `global_seq, event_id, aggregate_id, event_type, schema_version, payload,
	causation_id, device_uuid, actor_id, actor_role, client_timestamp,
	base_version, sequence, server_timestamp, prev_hash, hash, hash_alg`

func (r *PostgresRepository) Insert(ctx context.Context, e *event.Event) (int64, error) {
	query := `INSERT INTO events (event_id, aggregate_id, event_type, schema_version, payload,
			causation_id, device_uuid, actor_id, actor_role, client_timestamp,
			base_version, sequence, server_timestamp, prev_hash, hash, hash_alg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING global_seq`

	var globalSeq int64
	err := r.db.QueryRowContext(ctx, query,
		e.EventID, e.AggregateID, e.Type, e.SchemaVersion, []byte(e.Payload),
		e.CausationID, e.DeviceUUID, e.ActorID, e.ActorRole, e.ClientTimestamp,
		e.BaseVersion, e.Sequence, e.ServerTimestamp, e.PrevHash, e.Hash, e.HashAlg,
	).Scan(&globalSeq)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert event: %v", common.ErrStore, err)
	}
	return globalSeq, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, eventID string) (*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE event_id = $1`
	e, err := scanEvent(r.db.QueryRowContext(ctx, query, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", common.ErrNotFound, eventID)
	}
	return e, err
}

func (r *PostgresRepository) HeadForUpdate(ctx context.Context, aggregateID string) (Head, error) {
	query := `SELECT aggregate_id, head_sequence, head_hash, locked
		FROM aggregate_heads WHERE aggregate_id = $1 FOR UPDATE`

	h := Head{AggregateID: aggregateID}
	err := r.db.QueryRowContext(ctx, query, aggregateID).
		Scan(&h.AggregateID, &h.Sequence, &h.Hash, &h.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return Head{AggregateID: aggregateID}, nil
	}
	if err != nil {
		return h, fmt.Errorf("%w: failed to read head for %s: %v", common.ErrStore, aggregateID, err)
	}
	return h, nil
}

func (r *PostgresRepository) SaveHead(ctx context.Context, h Head) error {
	query := `INSERT INTO aggregate_heads (aggregate_id, head_sequence, head_hash, locked, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (aggregate_id) DO UPDATE
		SET head_sequence = EXCLUDED.head_sequence,
		    head_hash = EXCLUDED.head_hash,
		    locked = EXCLUDED.locked,
		    updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, h.AggregateID, h.Sequence, h.Hash, h.Locked); err != nil {
		return fmt.Errorf("%w: failed to save head for %s: %v", common.ErrStore, h.AggregateID, err)
	}
	return nil
}

func (r *PostgresRepository) ListSince(ctx context.Context, since int64, aggregateIDs []string, limit int) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE global_seq > $1`
	args := []any{since}
	if len(aggregateIDs) > 0 {
		placeholders := make([]string, len(aggregateIDs))
		for i, id := range aggregateIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND aggregate_id IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY global_seq`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list events: %v", common.ErrStore, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r *PostgresRepository) EventsFor(ctx context.Context, aggregateID string, fromSequence int64) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE aggregate_id = $1 AND sequence >= $2
		ORDER BY sequence`

	rows, err := r.db.QueryContext(ctx, query, aggregateID, fromSequence)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list events for %s: %v", common.ErrStore, aggregateID, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r *PostgresRepository) EventsForRange(ctx context.Context, aggregateID string, from, to time.Time) ([]*event.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE aggregate_id = $1 AND server_timestamp >= $2 AND server_timestamp < $3
		ORDER BY sequence`

	rows, err := r.db.QueryContext(ctx, query, aggregateID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list events for %s: %v", common.ErrStore, aggregateID, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r *PostgresRepository) AggregatesActive(ctx context.Context, from, to time.Time) ([]string, error) {
	query := `SELECT DISTINCT aggregate_id FROM events
		WHERE server_timestamp >= $1 AND server_timestamp < $2
		ORDER BY aggregate_id`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list active aggregates: %v", common.ErrStore, err)
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

func (r *PostgresRepository) InsertRejection(ctx context.Context, rej Rejection) error {
	query := `INSERT INTO push_rejections
		(event_id, aggregate_id, device_uuid, error_code, base_version, head_sequence, rejected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		rej.EventID, rej.AggregateID, rej.DeviceUUID, rej.ErrorCode,
		rej.BaseVersion, rej.HeadSequence, rej.RejectedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to record rejection: %v", common.ErrStore, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var e event.Event
	var payload []byte
	var serverTS time.Time
	err := row.Scan(
		&e.GlobalSeq, &e.EventID, &e.AggregateID, &e.Type, &e.SchemaVersion, &payload,
		&e.CausationID, &e.DeviceUUID, &e.ActorID, &e.ActorRole, &e.ClientTimestamp,
		&e.BaseVersion, &e.Sequence, &serverTS, &e.PrevHash, &e.Hash, &e.HashAlg)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	ts := serverTS.UTC()
	e.ServerTimestamp = &ts
	e.ClientTimestamp = e.ClientTimestamp.UTC()
	return &e, nil
}

func collectEvents(rows *sql.Rows) ([]*event.Event, error) {
	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan event: %v", common.ErrStore, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return out, nil
}
