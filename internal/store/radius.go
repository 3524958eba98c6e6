package store

import (
	"context"
	"fmt"
	"strconv"
)

// RADIUS attribute names written to the check/reply tables.
const (
	attrAuthType        = "Auth-Type"
	attrSessionTimeout  = "Session-Timeout"
	attrIdleTimeout     = "Idle-Timeout"
	attrMaxDataUp       = "WISPr-Bandwidth-Max-Up"
	attrMaxDataDown     = "WISPr-Bandwidth-Max-Down"
	attrSimultaneousUse = "Simultaneous-Use"
)

// InsertRejectRule blocks reauthentication for the user until cleared.
func (s *Store) InsertRejectRule(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO radcheck (username, attribute, op, value)
		VALUES ($1, $2, ':=', 'Reject')
		ON CONFLICT (username, attribute) DO UPDATE SET value = 'Reject', op = ':='
	`, username, attrAuthType)
	if err != nil {
		return fmt.Errorf("insert reject rule: %w", err)
	}
	return nil
}

// ClearRejectRule removes the Auth-Type Reject row, restoring service.
func (s *Store) ClearRejectRule(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM radcheck WHERE username = $1 AND attribute = $2`,
		username, attrAuthType)
	if err != nil {
		return fmt.Errorf("clear reject rule: %w", err)
	}
	return nil
}

// ReplyLimits are the aggregated remaining limits pushed to radreply after a
// plan change so the RADIUS service hands routers the right caps.
type ReplyLimits struct {
	SessionTimeout int
	IdleTimeout    int
	UploadBps      int64
	DownloadBps    int64
	MaxSessions    int
}

// SyncReplyAttributes rewrites the user's radreply rows from the aggregated
// limits of their active assignments.
func (s *Store) SyncReplyAttributes(ctx context.Context, username string, limits ReplyLimits) error {
	attrs := map[string]string{}
	if limits.SessionTimeout > 0 {
		attrs[attrSessionTimeout] = strconv.Itoa(limits.SessionTimeout)
	}
	if limits.IdleTimeout > 0 {
		attrs[attrIdleTimeout] = strconv.Itoa(limits.IdleTimeout)
	}
	if limits.UploadBps > 0 {
		attrs[attrMaxDataUp] = strconv.FormatInt(limits.UploadBps, 10)
	}
	if limits.DownloadBps > 0 {
		attrs[attrMaxDataDown] = strconv.FormatInt(limits.DownloadBps, 10)
	}
	if limits.MaxSessions > 0 {
		attrs[attrSimultaneousUse] = strconv.Itoa(limits.MaxSessions)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sync reply attributes: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM radreply WHERE username = $1`, username); err != nil {
		return fmt.Errorf("sync reply attributes: clear: %w", err)
	}
	for attr, value := range attrs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO radreply (username, attribute, op, value)
			VALUES ($1, $2, ':=', $3)`, username, attr, value); err != nil {
			return fmt.Errorf("sync reply attributes: insert %s: %w", attr, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sync reply attributes: commit: %w", err)
	}
	return nil
}
