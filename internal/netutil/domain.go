// Package netutil holds small address and domain helpers shared by the
// portal pipeline and whitelist generator.
package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegisteredDomain extracts the effective top-level-domain-plus-one (eTLD+1)
// from a target that may be host:port, a URL, or a bare IPv6 address.
//
// Examples:
//
//	"www.google.co.uk:443" -> "google.co.uk"
//	"portal.spotfi.net"    -> "spotfi.net"
//	"192.168.1.1:8080"     -> "192.168.1.1"
//	"[::1]:80"             -> "::1"
func RegisteredDomain(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}

	host := target
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	// IP addresses, localhost, and bare TLDs have no eTLD+1; keep them whole.
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
