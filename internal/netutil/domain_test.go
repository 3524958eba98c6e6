package netutil

import "testing"

func TestRegisteredDomain(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"www.google.co.uk:443", "google.co.uk"},
		{"portal.spotfi.net", "spotfi.net"},
		{"https://login.example.org/path?q=1", "example.org"},
		{"192.168.1.1:8080", "192.168.1.1"},
		{"[::1]:80", "::1"},
		{"localhost", "localhost"},
	}
	for _, c := range cases {
		if got := RegisteredDomain(c.in); got != c.want {
			t.Fatalf("RegisteredDomain(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsPrivateAddress(t *testing.T) {
	private := []string{"10.1.30.1", "192.168.0.1", "172.16.5.4", "169.254.1.1", "127.0.0.1", "fe80::1", "fd00::1"}
	for _, h := range private {
		if !IsPrivateAddress(h) {
			t.Fatalf("IsPrivateAddress(%q) = false, want true", h)
		}
	}
	public := []string{"8.8.8.8", "1.1.1.1", "2600::1", "example.org", ""}
	for _, h := range public {
		if IsPrivateAddress(h) {
			t.Fatalf("IsPrivateAddress(%q) = true, want false", h)
		}
	}
}
