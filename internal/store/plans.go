package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spotfi/spotfi/internal/model"
)

const planColumns = `id, name, data_quota, quota_type, upload_bps, download_bps,
	session_timeout, idle_timeout, max_sessions, validity_days, status`

func scanPlan(row pgx.Row) (*model.Plan, error) {
	var p model.Plan
	var qt string
	err := row.Scan(&p.ID, &p.Name, &p.DataQuota, &qt, &p.UploadBps,
		&p.DownloadBps, &p.SessionTimeout, &p.IdleTimeout, &p.MaxSessions,
		&p.ValidityDays, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	p.QuotaType = model.QuotaType(qt)
	return &p, nil
}

// GetPlan loads one catalog entry.
func (s *Store) GetPlan(ctx context.Context, id string) (*model.Plan, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	return scanPlan(row)
}

// ActivePlanLimits aggregates the reply limits across the user's active,
// unexpired assignments. The most permissive value of each limit wins; zero
// means the attribute is omitted from radreply.
func (s *Store) ActivePlanLimits(ctx context.Context, username string) (ReplyLimits, error) {
	var l ReplyLimits
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(p.session_timeout), 0),
		       COALESCE(MAX(p.idle_timeout), 0),
		       COALESCE(MAX(p.upload_bps), 0),
		       COALESCE(MAX(p.download_bps), 0),
		       COALESCE(MAX(p.max_sessions), 0)
		FROM user_plans up
		JOIN plans p ON p.id = up.plan_id
		WHERE up.username = $1 AND up.status = 'ACTIVE'
		  AND (up.expires_at IS NULL OR up.expires_at > now())`,
		username).Scan(&l.SessionTimeout, &l.IdleTimeout,
		&l.UploadBps, &l.DownloadBps, &l.MaxSessions)
	if err != nil {
		return l, fmt.Errorf("active plan limits: %w", err)
	}
	return l, nil
}
