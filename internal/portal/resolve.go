package portal

import (
	"context"
	"errors"
	"strings"

	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/store"
)

// ErrRouterNotFound means no resolution strategy matched; the login cannot be
// trusted and is refused.
var ErrRouterNotFound = errors.New("portal: router not found")

// RouterSource is the lookup surface for identity resolution.
type RouterSource interface {
	GetRouterByMAC(ctx context.Context, mac string) (*model.Router, error)
	FindRouterByNormalizedName(ctx context.Context, key string) (*model.Router, error)
	GetRouterByNASIP(ctx context.Context, ip string) (*model.Router, error)
}

// NormalizeMAC uppercases and strips separators, keeping hex digits only.
// Idempotent: normalizing an already-normalized MAC is a no-op.
func NormalizeMAC(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	if b.Len() != 12 {
		return ""
	}
	return b.String()
}

// NormalizeName lowercases and strips everything but letters and digits.
// Router names arrive with inconsistent whitespace and separators.
func NormalizeName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveRouter identifies the router behind a UAM request. MAC is the most
// reliable signal, then the normalized name, then the NAS IP candidates
// (request source address; the hotspot uamip differs from the stored NAS IP
// and is not consulted).
func ResolveRouter(ctx context.Context, src RouterSource, called, nasid string, ips ...string) (*model.Router, error) {
	if mac := NormalizeMAC(called); mac != "" {
		r, err := src.GetRouterByMAC(ctx, mac)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	if key := NormalizeName(nasid); key != "" {
		r, err := src.FindRouterByNormalizedName(ctx, key)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	for _, ip := range ips {
		if ip == "" {
			continue
		}
		r, err := src.GetRouterByNASIP(ctx, ip)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrRouterNotFound
}
