package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spotfi/spotfi/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const routerColumns = `id, token, radius_secret, uam_secret,
	COALESCE(mac_address, ''), nas_ip_address, name, host_id, status,
	COALESCE(last_seen, 'epoch'::timestamptz)`

func scanRouter(row pgx.Row) (*model.Router, error) {
	var r model.Router
	var status string
	err := row.Scan(&r.ID, &r.Token, &r.RadiusSecret, &r.UAMSecret,
		&r.MACAddress, &r.NASIPAddress, &r.Name, &r.HostID, &status, &r.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan router: %w", err)
	}
	r.Status = model.RouterStatus(status)
	return &r, nil
}

// GetRouter loads a router by id.
func (s *Store) GetRouter(ctx context.Context, id string) (*model.Router, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+routerColumns+` FROM routers WHERE id = $1`, id)
	return scanRouter(row)
}

// GetRouterByToken authenticates a broker client: username is the router id,
// password is the token.
func (s *Store) GetRouterByToken(ctx context.Context, id, token string) (*model.Router, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+routerColumns+` FROM routers WHERE id = $1 AND token = $2`, id, token)
	return scanRouter(row)
}

// GetRouterByMAC looks up a router by its normalized MAC address
// (uppercase, no separators).
func (s *Store) GetRouterByMAC(ctx context.Context, mac string) (*model.Router, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+routerColumns+` FROM routers WHERE mac_address = $1`, mac)
	return scanRouter(row)
}

// GetRouterByNASIP looks up a router by its last-known NAS IP.
func (s *Store) GetRouterByNASIP(ctx context.Context, ip string) (*model.Router, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+routerColumns+` FROM routers WHERE nas_ip_address = $1
		 ORDER BY last_seen DESC NULLS LAST LIMIT 1`, ip)
	return scanRouter(row)
}

// FindRouterByNormalizedName matches routers whose name, stripped of
// non-alphanumerics and lowercased, equals or contains the given key.
// Exact matches win over substring matches.
func (s *Store) FindRouterByNormalizedName(ctx context.Context, key string) (*model.Router, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+routerColumns+` FROM routers
		WHERE lower(regexp_replace(name, '[^a-zA-Z0-9]', '', 'g')) = $1
		   OR lower(regexp_replace(name, '[^a-zA-Z0-9]', '', 'g')) LIKE '%' || $1 || '%'
		ORDER BY (lower(regexp_replace(name, '[^a-zA-Z0-9]', '', 'g')) = $1) DESC,
		         last_seen DESC NULLS LAST
		LIMIT 1`, key)
	return scanRouter(row)
}

// ListRouters returns all routers ordered by name.
func (s *Store) ListRouters(ctx context.Context) ([]model.Router, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+routerColumns+` FROM routers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list routers: %w", err)
	}
	defer rows.Close()

	var out []model.Router
	for rows.Next() {
		r, err := scanRouter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertRouter creates or updates a router row (admin surface touchpoint).
func (s *Store) UpsertRouter(ctx context.Context, r model.Router) error {
	var mac *string
	if r.MACAddress != "" {
		mac = &r.MACAddress
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO routers (id, token, radius_secret, uam_secret, mac_address,
		                     nas_ip_address, name, host_id, status, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			token          = excluded.token,
			radius_secret  = excluded.radius_secret,
			uam_secret     = excluded.uam_secret,
			mac_address    = excluded.mac_address,
			nas_ip_address = excluded.nas_ip_address,
			name           = excluded.name,
			host_id        = excluded.host_id
	`, r.ID, r.Token, r.RadiusSecret, r.UAMSecret, mac,
		r.NASIPAddress, r.Name, r.HostID, string(r.Status), r.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert router: %w", err)
	}
	return nil
}

// RouterSeen is one merged presence observation flushed in bulk.
type RouterSeen struct {
	RouterID string
	Status   model.RouterStatus
	LastSeen time.Time
	NASIP    string
}

// FlushRouterPresence applies merged presence observations in one batch.
// Called by the presence pipeline on its flush tick, never per heartbeat.
func (s *Store) FlushRouterPresence(ctx context.Context, seen []RouterSeen) error {
	if len(seen) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range seen {
		if o.NASIP != "" {
			batch.Queue(`UPDATE routers SET status = $2, last_seen = $3, nas_ip_address = $4
				WHERE id = $1`, o.RouterID, string(o.Status), o.LastSeen, o.NASIP)
		} else {
			batch.Queue(`UPDATE routers SET status = $2, last_seen = $3
				WHERE id = $1`, o.RouterID, string(o.Status), o.LastSeen)
		}
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range seen {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("flush presence: %w", err)
		}
	}
	return nil
}

// MarkRoutersOffline sets status OFFLINE for the given ids.
func (s *Store) MarkRoutersOffline(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE routers SET status = 'OFFLINE' WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark routers offline: %w", err)
	}
	return nil
}

// ListRoutersWithStatus returns ids of routers currently marked with status.
func (s *Store) ListRoutersWithStatus(ctx context.Context, status model.RouterStatus) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM routers WHERE status = $1`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list routers by status: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertNAS ensures a FreeRADIUS client row exists for the router so the
// shared RADIUS service accepts its requests.
func (s *Store) UpsertNAS(ctx context.Context, nasname, shortname, secret string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nas (nasname, shortname, secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (nasname) DO UPDATE SET
			shortname = excluded.shortname,
			secret    = excluded.secret
	`, nasname, shortname, secret)
	if err != nil {
		return fmt.Errorf("upsert nas: %w", err)
	}
	return nil
}
