package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/trialware/diarysync/internal/client/models"
	"github.com/trialware/diarysync/internal/common"
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

func (r *SQLiteRepository) Enqueue(ctx context.Context, eventID, aggregateID string, enqueuedAt time.Time) error {
	query := `INSERT INTO sync_queue (event_id, aggregate_id, enqueued_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		eventID, aggregateID, enqueuedAt.UTC().Format(time.RFC3339Nano), models.QueueStatusPending)
	if err != nil {
		return fmt.Errorf("%w: failed to enqueue: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) Due(ctx context.Context, now time.Time) ([]*models.QueueEntry, error) {
	query := `SELECT position, event_id, aggregate_id, enqueued_at, attempt_count, next_retry_at, status
		FROM sync_queue
		WHERE status = ? AND (next_retry_at = '' OR next_retry_at <= ?)
		ORDER BY position ASC`
	rows, err := r.db.QueryContext(ctx, query,
		models.QueueStatusPending, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select due entries: %v", common.ErrStore, err)
	}
	defer rows.Close()

	var result []*models.QueueEntry
	for rows.Next() {
		var item models.QueueEntry
		var enqueuedAt, nextRetryAt string
		if err := rows.Scan(&item.Position, &item.EventID, &item.AggregateID,
			&enqueuedAt, &item.AttemptCount, &nextRetryAt, &item.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
		}
		if item.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt); err != nil {
			return nil, fmt.Errorf("%w: bad enqueued_at: %v", common.ErrStore, err)
		}
		if nextRetryAt != "" {
			if item.NextRetryAt, err = time.Parse(time.RFC3339Nano, nextRetryAt); err != nil {
				return nil, fmt.Errorf("%w: bad next_retry_at: %v", common.ErrStore, err)
			}
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStore, err)
	}
	return result, nil
}

func (r *SQLiteRepository) MarkSending(ctx context.Context, eventID string) error {
	return r.setStatus(ctx, eventID, models.QueueStatusSending)
}

func (r *SQLiteRepository) Recover(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE status = ?`,
		models.QueueStatusPending, models.QueueStatusSending)
	if err != nil {
		return fmt.Errorf("%w: failed to recover sending entries: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, eventID string, attemptCount int, nextRetryAt time.Time) error {
	query := `UPDATE sync_queue
		SET status = ?, attempt_count = ?, next_retry_at = ?
		WHERE event_id = ?`
	_, err := r.db.ExecContext(ctx, query,
		models.QueueStatusPending, attemptCount,
		nextRetryAt.UTC().Format(time.RFC3339Nano), eventID)
	if err != nil {
		return fmt.Errorf("%w: failed to mark entry failed: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("%w: failed to remove entry: %v", common.ErrStore, err)
	}
	return nil
}

func (r *SQLiteRepository) HasPending(ctx context.Context, aggregateID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE aggregate_id = ?`, aggregateID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: failed to count entries: %v", common.ErrStore, err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Len(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: failed to count entries: %v", common.ErrStore, err)
	}
	return n, nil
}

func (r *SQLiteRepository) setStatus(ctx context.Context, eventID, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE event_id = ?`, status, eventID)
	if err != nil {
		return fmt.Errorf("%w: failed to update entry status: %v", common.ErrStore, err)
	}
	return nil
}
