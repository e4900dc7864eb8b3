package conflicts

import (
	"context"
	"fmt"
	"time"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/conflict"
	"github.com/trialware/diarysync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, rec *conflict.Record) error {
	query := `INSERT INTO conflict_records
		(id, aggregate_id, local_version, remote_version, classification, resolution_action, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.AggregateID, rec.LocalVersion, rec.RemoteVersion,
		string(rec.Classification), rec.Action, rec.Detail,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: failed to insert conflict record: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) ForAggregate(ctx context.Context, aggregateID string) ([]*conflict.Record, error) {
	query := `SELECT id, aggregate_id, local_version, remote_version, classification, resolution_action, detail, created_at
		FROM conflict_records WHERE aggregate_id = ? ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select conflict records: %v", common.ErrStore, err)
	}
	defer rows.Close()

	var result []*conflict.Record
	for rows.Next() {
		var rec conflict.Record
		var classification, createdAt string
		if err := rows.Scan(&rec.ID, &rec.AggregateID, &rec.LocalVersion, &rec.RemoteVersion,
			&classification, &rec.Action, &rec.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
		}
		rec.Classification = conflict.Classification(classification)
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("%w: bad created_at: %v", common.ErrStore, err)
		}
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return result, nil
}
