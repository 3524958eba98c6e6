package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spotfi/spotfi/internal/model"
)

// terminateCauseAdminReset is written when the cloud closes a session itself
// (disconnect worker, stale sweep, reconciliation).
const terminateCauseAdminReset = "Admin-Reset"

const sessionColumns = `acct_unique_id, acct_session_id, username, router_id,
	nas_ip_address, calling_station_id, framed_ip_address, acct_start_time,
	acct_update_time, acct_stop_time, acct_input_octets, acct_output_octets,
	acct_terminate_cause`

func scanSession(rows pgx.Rows) (model.Session, error) {
	var sess model.Session
	err := rows.Scan(&sess.AcctUniqueID, &sess.AcctSessionID, &sess.Username,
		&sess.RouterID, &sess.NASIPAddress, &sess.CallingStationID,
		&sess.FramedIPAddress, &sess.AcctStartTime, &sess.AcctUpdateTime,
		&sess.AcctStopTime, &sess.AcctInputOctets, &sess.AcctOutputOctets,
		&sess.AcctTerminateCause)
	if err != nil {
		return sess, fmt.Errorf("scan session: %w", err)
	}
	return sess, nil
}

func (s *Store) querySessions(ctx context.Context, q string, args ...any) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// OpenSessionsForUser returns the user's sessions with no stop time.
func (s *Store) OpenSessionsForUser(ctx context.Context, username string) ([]model.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE username = $1 AND acct_stop_time IS NULL`, username)
}

// OpenSessionsForRouter returns the router's sessions with no stop time.
func (s *Store) OpenSessionsForRouter(ctx context.Context, routerID string) ([]model.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE router_id = $1 AND acct_stop_time IS NULL`, routerID)
}

// OpenSessionBytes sums input+output over the user's still-open sessions.
// Bounded: a user has O(1) open sessions.
func (s *Store) OpenSessionBytes(ctx context.Context, username string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(acct_input_octets + acct_output_octets), 0)
		FROM sessions WHERE username = $1 AND acct_stop_time IS NULL`,
		username).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("open session bytes: %w", err)
	}
	return total, nil
}

// CloseSessions stops the given sessions with cause Admin-Reset. The usage
// trigger fires on the transition and credits the counters.
func (s *Store) CloseSessions(ctx context.Context, acctUniqueIDs []string, now time.Time) error {
	if len(acctUniqueIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET acct_stop_time = $2, acct_terminate_cause = $3
		WHERE acct_unique_id = ANY($1) AND acct_stop_time IS NULL`,
		acctUniqueIDs, now, terminateCauseAdminReset)
	if err != nil {
		return fmt.Errorf("close sessions: %w", err)
	}
	return nil
}

// CloseStaleSessions closes sessions that have not been updated for the given
// cutoff. Prevents permanent quota lock-out when a router loses power
// mid-session. Returns the number of sessions closed.
func (s *Store) CloseStaleSessions(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET acct_stop_time = $2, acct_terminate_cause = $3
		WHERE acct_stop_time IS NULL
		  AND COALESCE(acct_update_time, acct_start_time) < $1`,
		cutoff, now, terminateCauseAdminReset)
	if err != nil {
		return 0, fmt.Errorf("close stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ImportSession inserts a session observed on a router but missing from the
// store (reconciliation). Already-present rows are left untouched.
func (s *Store) ImportSession(ctx context.Context, sess model.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (acct_unique_id, acct_session_id, username,
			router_id, nas_ip_address, calling_station_id, framed_ip_address,
			acct_start_time, acct_update_time, acct_stop_time,
			acct_input_octets, acct_output_octets, acct_terminate_cause)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (acct_unique_id) DO NOTHING
	`, sess.AcctUniqueID, sess.AcctSessionID, sess.Username, sess.RouterID,
		sess.NASIPAddress, sess.CallingStationID, sess.FramedIPAddress,
		sess.AcctStartTime, sess.AcctUpdateTime, sess.AcctStopTime,
		sess.AcctInputOctets, sess.AcctOutputOctets, sess.AcctTerminateCause)
	if err != nil {
		return fmt.Errorf("import session: %w", err)
	}
	return nil
}

// UsageCounter reads one materialized counter row; zero row means zero usage.
func (s *Store) UsageCounter(ctx context.Context, username, periodKey string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT total_bytes FROM usage_counters
		                 WHERE username = $1 AND period_key = $2), 0)`,
		username, periodKey).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("usage counter: %w", err)
	}
	return total, nil
}

// PruneRouterDailyUsage deletes router/day aggregates older than the cutoff
// date. Returns the number of rows removed.
func (s *Store) PruneRouterDailyUsage(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM router_daily_usage WHERE usage_date < $1::date`, before)
	if err != nil {
		return 0, fmt.Errorf("prune router daily usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RouterDailyUsage reads one router/day aggregate; zero row means zero usage.
func (s *Store) RouterDailyUsage(ctx context.Context, routerID string, date time.Time) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT total_bytes FROM router_daily_usage
		                 WHERE router_id = $1 AND usage_date = $2::date), 0)`,
		routerID, date).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("router daily usage: %w", err)
	}
	return total, nil
}
