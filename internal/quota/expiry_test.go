package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/store"
)

type stubExpiryStore struct {
	mu        sync.Mutex
	due       []string
	remaining map[string][]model.UserPlan
	limits    map[string]store.ReplyLimits

	enqueued []string
	rejected []string
	synced   map[string]store.ReplyLimits
}

func newStubExpiryStore() *stubExpiryStore {
	return &stubExpiryStore{
		remaining: map[string][]model.UserPlan{},
		limits:    map[string]store.ReplyLimits{},
		synced:    map[string]store.ReplyLimits{},
	}
}

func (s *stubExpiryStore) ExpireDuePlans(_ context.Context, _ time.Time) ([]string, error) {
	return s.due, nil
}

func (s *stubExpiryStore) ActiveUserPlans(_ context.Context, username string) ([]model.UserPlan, error) {
	return s.remaining[username], nil
}

func (s *stubExpiryStore) ActivePlanLimits(_ context.Context, username string) (store.ReplyLimits, error) {
	return s.limits[username], nil
}

func (s *stubExpiryStore) EnqueueDisconnect(_ context.Context, username string, _ model.DisconnectReason) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, username)
	return int64(len(s.enqueued)), nil
}

func (s *stubExpiryStore) InsertRejectRule(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, username)
	return nil
}

func (s *stubExpiryStore) SyncReplyAttributes(_ context.Context, username string, limits store.ReplyLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced[username] = limits
	return nil
}

func TestPlanExpiry_UncoveredUserIsDisconnectedAndBlocked(t *testing.T) {
	st := newStubExpiryStore()
	st.due = []string{"alice"}

	if err := NewPlanExpiry(st).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.rejected) != 1 || st.rejected[0] != "alice" {
		t.Fatalf("rejected = %v", st.rejected)
	}
	if len(st.enqueued) != 1 || st.enqueued[0] != "alice" {
		t.Fatalf("enqueued = %v", st.enqueued)
	}
	if len(st.synced) != 0 {
		t.Fatalf("synced = %v, want none", st.synced)
	}
}

func TestPlanExpiry_CoveredUserGetsLimitsResynced(t *testing.T) {
	st := newStubExpiryStore()
	st.due = []string{"bob"}
	st.remaining["bob"] = []model.UserPlan{{ID: "up2", Status: model.UserPlanActive}}
	st.limits["bob"] = store.ReplyLimits{SessionTimeout: 3600, DownloadBps: 10_000_000}

	if err := NewPlanExpiry(st).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.enqueued) != 0 || len(st.rejected) != 0 {
		t.Fatalf("enqueued=%v rejected=%v, want none", st.enqueued, st.rejected)
	}
	got, ok := st.synced["bob"]
	if !ok || got.SessionTimeout != 3600 || got.DownloadBps != 10_000_000 {
		t.Fatalf("synced = %+v", st.synced)
	}
}
