// Package radauth speaks RFC 2865 Access-Request to the shared RADIUS
// service on behalf of the captive portal. Accounting traffic never flows
// through here; routers talk to the RADIUS service directly.
package radauth

import (
	"context"
	"fmt"
	"net"
	"time"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// AuthRequest is one portal login attempt forwarded to RADIUS. Secret is the
// resolving router's shared secret, so the RADIUS service sees the request as
// if it came from that NAS.
type AuthRequest struct {
	Username      string
	Password      string
	Secret        string
	NASIPAddress  string
	NASIdentifier string
}

// Client sends Access-Requests with a per-call timeout.
type Client struct {
	addr    string
	timeout time.Duration

	// exchange is swapped by tests.
	exchange func(ctx context.Context, pkt *radius.Packet, addr string) (*radius.Packet, error)
}

// NewClient targets the RADIUS auth endpoint (host:port, UDP).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{addr: addr, timeout: timeout, exchange: radius.Exchange}
}

// Authenticate returns true on Access-Accept, false on Access-Reject, and an
// error when the exchange itself fails (timeout, network). Callers treat
// errors as transient and rejects as final.
func (c *Client) Authenticate(ctx context.Context, req AuthRequest) (bool, error) {
	pkt := radius.New(radius.CodeAccessRequest, []byte(req.Secret))
	if err := rfc2865.UserName_SetString(pkt, req.Username); err != nil {
		return false, fmt.Errorf("radauth: set username: %w", err)
	}
	if err := rfc2865.UserPassword_SetString(pkt, req.Password); err != nil {
		return false, fmt.Errorf("radauth: set password: %w", err)
	}
	if req.NASIPAddress != "" {
		if ip := net.ParseIP(req.NASIPAddress).To4(); ip != nil {
			if err := rfc2865.NASIPAddress_Set(pkt, ip); err != nil {
				return false, fmt.Errorf("radauth: set nas ip: %w", err)
			}
		}
	}
	if req.NASIdentifier != "" {
		if err := rfc2865.NASIdentifier_SetString(pkt, req.NASIdentifier); err != nil {
			return false, fmt.Errorf("radauth: set nas identifier: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.exchange(ctx, pkt, c.addr)
	if err != nil {
		return false, fmt.Errorf("radauth: exchange: %w", err)
	}
	return resp.Code == radius.CodeAccessAccept, nil
}
