package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/dbx"
	"github.com/trialware/diarysync/internal/projection"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx). States are stored in their canonical serialized form.
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, aggregateID string) (*projection.RecordState, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT state FROM record_states WHERE aggregate_id = ?`, aggregateID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: record state for %s", common.ErrNotFound, aggregateID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get record state: %v", common.ErrStore, err)
	}
	var state projection.RecordState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: corrupt record state for %s: %v", common.ErrStore, aggregateID, err)
	}
	return &state, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, state *projection.RecordState) error {
	raw, err := state.CanonicalBytes()
	if err != nil {
		return fmt.Errorf("%w: failed to serialize record state: %v", common.ErrStore, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO record_states (aggregate_id, state, version) VALUES (?, ?, ?)
		ON CONFLICT(aggregate_id) DO UPDATE SET state = excluded.state, version = excluded.version
	`, state.AggregateID, raw, state.Version)
	if err != nil {
		return fmt.Errorf("%w: failed to save record state: %v", common.ErrStore, err)
	}
	return nil
}
