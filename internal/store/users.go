package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spotfi/spotfi/internal/model"
)

// GetUser loads a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT username, password_hash, status FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.PasswordHash, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Status = model.UserStatus(status)
	return &u, nil
}

const userPlanColumns = `id, username, plan_id, quota_type, assigned_at,
	activated_at, expires_at, data_used, data_quota, status`

func scanUserPlan(rows pgx.Rows) (model.UserPlan, error) {
	var up model.UserPlan
	var qt, status string
	err := rows.Scan(&up.ID, &up.Username, &up.PlanID, &qt, &up.AssignedAt,
		&up.ActivatedAt, &up.ExpiresAt, &up.DataUsed, &up.DataQuota, &status)
	if err != nil {
		return up, fmt.Errorf("scan user plan: %w", err)
	}
	up.QuotaType = model.QuotaType(qt)
	up.Status = model.UserPlanStatus(status)
	return up, nil
}

// ActiveUserPlans returns the user's assignments with status ACTIVE whose
// expiry is unset or in the future. Aggregated limits across these rows
// govern service.
func (s *Store) ActiveUserPlans(ctx context.Context, username string) ([]model.UserPlan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userPlanColumns+` FROM user_plans
		WHERE username = $1 AND status = 'ACTIVE'
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY assigned_at`, username)
	if err != nil {
		return nil, fmt.Errorf("active user plans: %w", err)
	}
	defer rows.Close()

	var out []model.UserPlan
	for rows.Next() {
		up, err := scanUserPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

// ExpireDuePlans marks ACTIVE assignments past their expiry as EXPIRED and
// returns the distinct usernames affected.
func (s *Store) ExpireDuePlans(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE user_plans SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING username`, now)
	if err != nil {
		return nil, fmt.Errorf("expire due plans: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		if _, dup := seen[u]; !dup {
			seen[u] = struct{}{}
			users = append(users, u)
		}
	}
	return users, rows.Err()
}

// AddDataUsed accumulates dataUsed on an assignment row (informational; the
// authoritative aggregate is usage_counters).
func (s *Store) AddDataUsed(ctx context.Context, id string, delta int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_plans SET data_used = data_used + $2 WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("add data used: %w", err)
	}
	return nil
}
