package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spotfi/spotfi/internal/model"
)

const disconnectJobColumns = `id, username, reason, created_at, processed, processed_at`

func scanDisconnectJob(row pgx.Row) (*model.DisconnectJob, error) {
	var j model.DisconnectJob
	var reason string
	err := row.Scan(&j.ID, &j.Username, &reason, &j.CreatedAt, &j.Processed, &j.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan disconnect job: %w", err)
	}
	j.Reason = model.DisconnectReason(reason)
	return &j, nil
}

// GetDisconnectJob loads one queue row by id.
func (s *Store) GetDisconnectJob(ctx context.Context, id int64) (*model.DisconnectJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+disconnectJobColumns+` FROM disconnect_queue WHERE id = $1`, id)
	return scanDisconnectJob(row)
}

// EnqueueDisconnect inserts a pending disconnect for the user, suppressing
// duplicates via the partial unique index. Returns the job id, or 0 when a
// pending job already exists.
func (s *Store) EnqueueDisconnect(ctx context.Context, username string, reason model.DisconnectReason) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO disconnect_queue (username, reason)
		VALUES ($1, $2)
		ON CONFLICT (username) WHERE NOT processed DO NOTHING
		RETURNING id`, username, string(reason)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("enqueue disconnect: %w", err)
	}
	// The same channel the trigger uses, so listeners need one code path.
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2::text)`,
		NotifyChannel, id); err != nil {
		return id, fmt.Errorf("notify disconnect: %w", err)
	}
	return id, nil
}

// PendingDisconnectJobs returns unprocessed queue rows, oldest first.
// Used by the disabled-by-default polling fallback and by startup catch-up.
func (s *Store) PendingDisconnectJobs(ctx context.Context, limit int) ([]model.DisconnectJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+disconnectJobColumns+` FROM disconnect_queue
		WHERE NOT processed ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending disconnect jobs: %w", err)
	}
	defer rows.Close()

	var out []model.DisconnectJob
	for rows.Next() {
		j, err := scanDisconnectJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// MarkDisconnectProcessed stamps the queue row done. Called after success and
// after retry exhaustion alike, so the queue never loops forever.
func (s *Store) MarkDisconnectProcessed(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE disconnect_queue SET processed = TRUE, processed_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark disconnect processed: %w", err)
	}
	return nil
}
