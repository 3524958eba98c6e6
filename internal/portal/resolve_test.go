package portal

import (
	"context"
	"errors"
	"testing"

	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/store"
)

type stubRouterSource struct {
	byMAC  map[string]*model.Router
	byName map[string]*model.Router
	byIP   map[string]*model.Router
}

func newStubRouterSource() *stubRouterSource {
	return &stubRouterSource{
		byMAC:  map[string]*model.Router{},
		byName: map[string]*model.Router{},
		byIP:   map[string]*model.Router{},
	}
}

func (s *stubRouterSource) GetRouterByMAC(_ context.Context, mac string) (*model.Router, error) {
	if r, ok := s.byMAC[mac]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubRouterSource) FindRouterByNormalizedName(_ context.Context, key string) (*model.Router, error) {
	if r, ok := s.byName[key]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubRouterSource) GetRouterByNASIP(_ context.Context, ip string) (*model.Router, error) {
	if r, ok := s.byIP[ip]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func TestNormalizeMAC(t *testing.T) {
	cases := []struct{ in, want string }{
		{"80:AF:CA:C6:70:55", "80AFCAC67055"},
		{"80-af-ca-c6-70-55", "80AFCAC67055"},
		{"80afcac67055", "80AFCAC67055"},
		{"80AFCAC67055", "80AFCAC67055"}, // idempotent
		{"garbage", ""},
		{"80:AF:CA", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeMAC(c.in); got != c.want {
			t.Fatalf("NormalizeMAC(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	// Round-trip law: normalize is idempotent.
	if NormalizeMAC(NormalizeMAC("80:af:ca:c6:70:55")) != NormalizeMAC("80:af:ca:c6:70:55") {
		t.Fatal("NormalizeMAC not idempotent")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Lobby AP #2", "lobbyap2"},
		{"  cafe-router ", "caferouter"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveRouter_PrefersMACOverNameOverIP(t *testing.T) {
	src := newStubRouterSource()
	byMAC := &model.Router{ID: "mac-router"}
	byName := &model.Router{ID: "name-router"}
	byIP := &model.Router{ID: "ip-router"}
	src.byMAC["80AFCAC67055"] = byMAC
	src.byName["lobbyap"] = byName
	src.byIP["203.0.113.9"] = byIP

	ctx := context.Background()

	r, err := ResolveRouter(ctx, src, "80:AF:CA:C6:70:55", "Lobby AP", "203.0.113.9")
	if err != nil || r.ID != "mac-router" {
		t.Fatalf("got %v, %v; want mac-router", r, err)
	}

	r, err = ResolveRouter(ctx, src, "", "Lobby AP", "203.0.113.9")
	if err != nil || r.ID != "name-router" {
		t.Fatalf("got %v, %v; want name-router", r, err)
	}

	r, err = ResolveRouter(ctx, src, "", "unknown", "203.0.113.9")
	if err != nil || r.ID != "ip-router" {
		t.Fatalf("got %v, %v; want ip-router", r, err)
	}
}

func TestResolveRouter_NoMatchRefused(t *testing.T) {
	src := newStubRouterSource()
	_, err := ResolveRouter(context.Background(), src, "80:AF:CA:C6:70:55", "nope", "198.51.100.1")
	if !errors.Is(err, ErrRouterNotFound) {
		t.Fatalf("err = %v, want ErrRouterNotFound", err)
	}
}
