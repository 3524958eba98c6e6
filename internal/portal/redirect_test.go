package portal

import (
	"strings"
	"testing"
)

func TestRedirectPolicy_SchemeWhitelist(t *testing.T) {
	p := RedirectPolicy{DefaultURL: "https://portal.spotfi.net/welcome"}

	for _, bad := range []string{
		"javascript:alert(1)",
		"data:text/html;base64,PHNjcmlwdD4=",
		"file:///etc/passwd",
		"ftp://example.org/x",
		"//example.org/x", // schemeless
		"",
	} {
		if got := p.Sanitize(bad); got != p.DefaultURL {
			t.Fatalf("Sanitize(%q) = %q, want default", bad, got)
		}
	}

	if got := p.Sanitize("http://example.org/next"); got != "http://example.org/next" {
		t.Fatalf("Sanitize(http) = %q", got)
	}
	if got := p.Sanitize("https://example.org/next"); got != "https://example.org/next" {
		t.Fatalf("Sanitize(https) = %q", got)
	}
}

func TestRedirectPolicy_MaxLength(t *testing.T) {
	p := RedirectPolicy{DefaultURL: "https://portal.spotfi.net/welcome"}
	long := "http://example.org/" + strings.Repeat("a", maxRedirectLength)
	if got := p.Sanitize(long); got != p.DefaultURL {
		t.Fatalf("oversized URL must fall back, got %q", got)
	}
}

func TestRedirectPolicy_DomainAllowList(t *testing.T) {
	p := RedirectPolicy{
		DefaultURL:     "https://portal.spotfi.net/welcome",
		AllowedDomains: []string{"example.org"},
	}

	if got := p.Sanitize("http://www.example.org/ok"); got != "http://www.example.org/ok" {
		t.Fatalf("subdomain of allowed eTLD+1 refused: %q", got)
	}
	if got := p.Sanitize("http://evil.net/x"); got != p.DefaultURL {
		t.Fatalf("disallowed domain passed: %q", got)
	}
	// Suffix spoofing must not pass the registered-domain check.
	if got := p.Sanitize("http://example.org.evil.net/x"); got != p.DefaultURL {
		t.Fatalf("spoofed suffix passed: %q", got)
	}
}

func TestRedirectPolicy_StripsDangerousParams(t *testing.T) {
	p := RedirectPolicy{DefaultURL: "https://portal.spotfi.net/welcome"}
	got := p.Sanitize("http://example.org/p?onload=evil&javascript=x&q=ok")
	if strings.Contains(got, "onload") || strings.Contains(got, "javascript") {
		t.Fatalf("dangerous params kept: %q", got)
	}
	if !strings.Contains(got, "q=ok") {
		t.Fatalf("benign param lost: %q", got)
	}
}
