package portal

import (
	"net/url"
	"strings"

	"github.com/spotfi/spotfi/internal/netutil"
)

// maxRedirectLength caps user-supplied redirect URLs.
const maxRedirectLength = 2048

// RedirectPolicy sanitizes user-supplied post-login redirects. Anything that
// fails a check collapses to the configured default; the portal never echoes
// an untrusted destination.
type RedirectPolicy struct {
	DefaultURL string
	// AllowedDomains narrows redirects to these registered domains (eTLD+1)
	// or exact hosts. Empty means any http/https destination.
	AllowedDomains []string
}

// Sanitize returns a redirect destination that is safe to send to a client.
func (p RedirectPolicy) Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRedirectLength {
		return p.DefaultURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return p.DefaultURL
	}
	// Scheme whitelist kills javascript:, data:, file: and friends.
	if u.Scheme != "http" && u.Scheme != "https" {
		return p.DefaultURL
	}
	if u.Host == "" {
		return p.DefaultURL
	}
	if len(p.AllowedDomains) > 0 && !p.hostAllowed(u.Host) {
		return p.DefaultURL
	}

	u.RawQuery = stripDangerousParams(u.Query()).Encode()
	u.Fragment = ""
	return u.String()
}

func (p RedirectPolicy) hostAllowed(host string) bool {
	registered := netutil.RegisteredDomain(host)
	bare := strings.ToLower(host)
	if h, _, ok := strings.Cut(bare, ":"); ok {
		bare = h
	}
	for _, allowed := range p.AllowedDomains {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if bare == allowed || registered == allowed {
			return true
		}
	}
	return false
}

// stripDangerousParams drops query parameters that could smuggle script into
// a downstream page: anything named like an event handler or mentioning
// javascript.
func stripDangerousParams(q url.Values) url.Values {
	for name := range q {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "on") || strings.Contains(lower, "javascript") {
			delete(q, name)
		}
	}
	return q
}
