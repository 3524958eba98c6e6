package quota

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spotfi/spotfi/internal/fabric"
	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/store"
)

func strPtr(s string) *string { return &s }

type stubStore struct {
	mu        sync.Mutex
	jobs      map[int64]*model.DisconnectJob
	sessions  map[string][]model.Session // username -> open sessions
	byRouter  map[string][]model.Session
	closed    []string
	imported  []model.Session
	rejected  []string
	sessErr   error
	processed map[int64]bool
}

func newStubStore() *stubStore {
	return &stubStore{
		jobs:      map[int64]*model.DisconnectJob{},
		sessions:  map[string][]model.Session{},
		byRouter:  map[string][]model.Session{},
		processed: map[int64]bool{},
	}
}

func (s *stubStore) GetDisconnectJob(_ context.Context, id int64) (*model.DisconnectJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *stubStore) PendingDisconnectJobs(_ context.Context, _ int) ([]model.DisconnectJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DisconnectJob
	for _, j := range s.jobs {
		if !j.Processed {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *stubStore) MarkDisconnectProcessed(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[id] = true
	if j, ok := s.jobs[id]; ok {
		j.Processed = true
	}
	return nil
}

func (s *stubStore) OpenSessionsForUser(_ context.Context, username string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessErr != nil {
		return nil, s.sessErr
	}
	return s.sessions[username], nil
}

func (s *stubStore) OpenSessionsForRouter(_ context.Context, routerID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRouter[routerID], nil
}

func (s *stubStore) CloseSessions(_ context.Context, ids []string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, ids...)
	return nil
}

func (s *stubStore) ImportSession(_ context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imported = append(s.imported, sess)
	return nil
}

func (s *stubStore) InsertRejectRule(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, username)
	return nil
}

type edgeCall struct {
	routerID, path, method string
	args                   any
}

type fakeEdge struct {
	mu    sync.Mutex
	calls []edgeCall
	// respond maps routerID to a canned response; unset routers time out.
	respond map[string]*fabric.Response
}

func newFakeEdge() *fakeEdge {
	return &fakeEdge{respond: map[string]*fabric.Response{}}
}

func (e *fakeEdge) Call(_ context.Context, routerID, path, method string, args any) (*fabric.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, edgeCall{routerID, path, method, args})
	resp, ok := e.respond[routerID]
	if !ok {
		return nil, fabric.ErrTimeout
	}
	return resp, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *fakePresence) IsOnline(_ context.Context, routerID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[routerID], nil
}

func okResponse(result string) *fabric.Response {
	return &fabric.Response{Status: "success", Result: json.RawMessage(result)}
}

func TestDisconnectWorker_KicksOnlineRoutersAndClosesSessions(t *testing.T) {
	st := newStubStore()
	st.jobs[1] = &model.DisconnectJob{ID: 1, Username: "alice", Reason: model.ReasonQuotaExceeded}
	st.sessions["alice"] = []model.Session{
		{AcctUniqueID: "s1", RouterID: strPtr("R1"), CallingStationID: "AABBCCDDEEFF"},
		{AcctUniqueID: "s2", RouterID: strPtr("R2"), CallingStationID: "AABBCCDDEE00"},
	}
	edge := newFakeEdge()
	edge.respond["R1"] = okResponse(`{}`)
	edge.respond["R2"] = okResponse(`{}`)
	pres := &fakePresence{online: map[string]bool{"R1": true, "R2": true}}

	w := NewDisconnectWorker(DisconnectWorkerConfig{
		Store: st, Edge: edge, Presence: pres,
		Backoffs: []time.Duration{time.Millisecond},
	})
	w.process(context.Background(), 1)

	edge.mu.Lock()
	if len(edge.calls) != 2 || edge.calls[0].path != "uspot" || edge.calls[0].method != "client_remove" {
		t.Fatalf("edge calls = %+v", edge.calls)
	}
	edge.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.rejected) != 1 || st.rejected[0] != "alice" {
		t.Fatalf("rejected = %v", st.rejected)
	}
	if len(st.closed) != 2 {
		t.Fatalf("closed = %v, want both sessions", st.closed)
	}
	if !st.processed[1] {
		t.Fatal("job not marked processed")
	}
}

func TestDisconnectWorker_OfflineRouterDefersClosure(t *testing.T) {
	st := newStubStore()
	st.jobs[2] = &model.DisconnectJob{ID: 2, Username: "bob", Reason: model.ReasonPlanExpired}
	st.sessions["bob"] = []model.Session{
		{AcctUniqueID: "s3", RouterID: strPtr("R9"), CallingStationID: "AABBCCDDEE11"},
	}
	edge := newFakeEdge()
	pres := &fakePresence{online: map[string]bool{}}

	w := NewDisconnectWorker(DisconnectWorkerConfig{
		Store: st, Edge: edge, Presence: pres,
		Backoffs: []time.Duration{time.Millisecond},
	})
	w.process(context.Background(), 2)

	edge.mu.Lock()
	if len(edge.calls) != 0 {
		t.Fatalf("edge calls = %+v, want none", edge.calls)
	}
	edge.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.closed) != 0 {
		t.Fatalf("closed = %v, want none (reconciliation will close)", st.closed)
	}
	if len(st.rejected) != 1 {
		t.Fatal("reject rule must be inserted even with no reachable router")
	}
	if !st.processed[2] {
		t.Fatal("job not marked processed")
	}
}

func TestDisconnectWorker_RetryExhaustionStillMarksProcessed(t *testing.T) {
	st := newStubStore()
	st.jobs[3] = &model.DisconnectJob{ID: 3, Username: "carol", Reason: model.ReasonQuotaExceeded}
	st.sessErr = errors.New("db down")

	w := NewDisconnectWorker(DisconnectWorkerConfig{
		Store: st, Edge: newFakeEdge(), Presence: &fakePresence{},
		Backoffs: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	})
	w.process(context.Background(), 3)

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.processed[3] {
		t.Fatal("exhausted job must still be marked processed")
	}
}

func TestDisconnectWorker_NotificationDrivesJob(t *testing.T) {
	st := newStubStore()
	st.jobs[4] = &model.DisconnectJob{ID: 4, Username: "dave", Reason: model.ReasonQuotaExceeded}
	jobs := make(chan int64, 1)

	w := NewDisconnectWorker(DisconnectWorkerConfig{
		Store: st, Edge: newFakeEdge(), Presence: &fakePresence{},
		Jobs:     jobs,
		Backoffs: []time.Duration{time.Millisecond},
	})
	w.Start()
	jobs <- 4

	deadline := time.After(2 * time.Second)
	for {
		st.mu.Lock()
		done := st.processed[4]
		st.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	w.Stop()
}

func TestDisconnectWorker_CatchUpDrainsBacklogOnStart(t *testing.T) {
	st := newStubStore()
	st.jobs[5] = &model.DisconnectJob{ID: 5, Username: "erin", Reason: model.ReasonQuotaExceeded}

	w := NewDisconnectWorker(DisconnectWorkerConfig{
		Store: st, Edge: newFakeEdge(), Presence: &fakePresence{},
		Backoffs: []time.Duration{time.Millisecond},
	})
	w.Start()

	deadline := time.After(2 * time.Second)
	for {
		st.mu.Lock()
		done := st.processed[5]
		st.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("backlog job never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	w.Stop()
}
