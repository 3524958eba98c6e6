package netutil

import "net/netip"

// IsPrivateAddress reports whether host parses as an IP on a private,
// link-local, or loopback range. The hotspot uamip must live on one of these
// unless a deployment explicitly allows public addresses for testing.
func IsPrivateAddress(host string) bool {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLoopback()
}
