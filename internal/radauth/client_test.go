package radauth

import (
	"context"
	"net"
	"testing"
	"time"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// startServer runs a RADIUS server on a random UDP port that accepts exactly
// one username/password pair.
func startServer(t *testing.T, secret, user, pass string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := radius.PacketServer{
		SecretSource: radius.StaticSecretSource([]byte(secret)),
		Handler: radius.HandlerFunc(func(w radius.ResponseWriter, r *radius.Request) {
			code := radius.CodeAccessReject
			if rfc2865.UserName_GetString(r.Packet) == user &&
				rfc2865.UserPassword_GetString(r.Packet) == pass {
				code = radius.CodeAccessAccept
			}
			if err := w.Write(r.Response(code)); err != nil {
				t.Errorf("write response: %v", err)
			}
		}),
	}
	go func() { _ = server.Serve(pc) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return pc.LocalAddr().String()
}

func TestAuthenticate_Accept(t *testing.T) {
	addr := startServer(t, "router-secret", "alice", "hunter2")
	c := NewClient(addr, 2*time.Second)

	ok, err := c.Authenticate(context.Background(), AuthRequest{
		Username:      "alice",
		Password:      "hunter2",
		Secret:        "router-secret",
		NASIPAddress:  "10.0.0.5",
		NASIdentifier: "lobby-ap",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !ok {
		t.Fatal("want Access-Accept")
	}
}

func TestAuthenticate_Reject(t *testing.T) {
	addr := startServer(t, "router-secret", "alice", "hunter2")
	c := NewClient(addr, 2*time.Second)

	ok, err := c.Authenticate(context.Background(), AuthRequest{
		Username: "alice",
		Password: "wrong",
		Secret:   "router-secret",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Fatal("want Access-Reject")
	}
}

func TestAuthenticate_TimeoutIsError(t *testing.T) {
	// Nothing listens here; the exchange must fail, not report a reject.
	c := NewClient("127.0.0.1:1", 100*time.Millisecond)

	_, err := c.Authenticate(context.Background(), AuthRequest{
		Username: "alice", Password: "hunter2", Secret: "s",
	})
	if err == nil {
		t.Fatal("want transport error")
	}
}
