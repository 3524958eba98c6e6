package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/spotfi/spotfi/internal/model"
)

// ReconcileStore is the session surface reconciliation reads and repairs.
type ReconcileStore interface {
	OpenSessionsForRouter(ctx context.Context, routerID string) ([]model.Session, error)
	CloseSessions(ctx context.Context, acctUniqueIDs []string, now time.Time) error
	ImportSession(ctx context.Context, sess model.Session) error
}

// edgeClient is one live entry from the router's client list.
type edgeClient struct {
	AcctSessionID string `json:"acct_session_id"`
	Username      string `json:"username"`
	MAC           string `json:"mac"`
	IPAddress     string `json:"ip_address"`
	StartTime     int64  `json:"start_time"`
	InputOctets   int64  `json:"input_octets"`
	OutputOctets  int64  `json:"output_octets"`
}

type clientList struct {
	Clients []edgeClient `json:"clients"`
}

// Reconciler re-syncs the accounting table against a router's live client
// list whenever the router comes online or an operator asks. Sessions the
// router no longer carries are closed; sessions the store never saw are
// imported.
type Reconciler struct {
	st       ReconcileStore
	edge     EdgeCaller
	presence OnlineChecker

	queue   chan string
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	now     func() time.Time

	stopCh chan struct{}
	done   sync.WaitGroup
}

// ReconcilerConfig wires the reconciler. Zero values default to 5 concurrent
// routers and 10 jobs/s.
type ReconcilerConfig struct {
	Store       ReconcileStore
	Edge        EdgeCaller
	Presence    OnlineChecker
	Concurrency int
	RatePerSec  int
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	return &Reconciler{
		st:       cfg.Store,
		edge:     cfg.Edge,
		presence: cfg.Presence,
		queue:    make(chan string, 256),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Enqueue schedules a router for reconciliation. Non-blocking; under
// backpressure the job is dropped (the next presence transition re-enqueues).
func (r *Reconciler) Enqueue(routerID string) {
	select {
	case r.queue <- routerID:
	default:
		log.Printf("[reconcile] queue full, dropping %s", routerID)
	}
}

// Start begins the dispatch loop.
func (r *Reconciler) Start() {
	r.done.Add(1)
	go func() {
		defer r.done.Done()
		for {
			select {
			case <-r.stopCh:
				return
			case routerID := <-r.queue:
				r.dispatch(routerID)
			}
		}
	}()
}

// Stop halts dispatch and waits for in-flight reconciliations.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.done.Wait()
}

func (r *Reconciler) dispatch(routerID string) {
	if err := r.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	r.done.Add(1)
	go func() {
		defer r.done.Done()
		defer r.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if err := r.Reconcile(ctx, routerID); err != nil {
			log.Printf("[reconcile] %s: %v", routerID, err)
		}
	}()
}

// Reconcile runs one router synchronously. Offline routers are skipped; the
// stale sweeper eventually closes their sessions.
func (r *Reconciler) Reconcile(ctx context.Context, routerID string) error {
	online, err := r.presence.IsOnline(ctx, routerID)
	if err != nil {
		return err
	}
	if !online {
		return nil
	}

	resp, err := r.edge.Call(ctx, routerID, "uspot", "client_list", nil)
	if err != nil {
		return fmt.Errorf("client_list: %w", err)
	}
	if !resp.Ok() {
		return fmt.Errorf("client_list rejected: %s", resp.Error)
	}
	var list clientList
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		return fmt.Errorf("client_list parse: %w", err)
	}

	live := make(map[string]edgeClient, len(list.Clients))
	for _, c := range list.Clients {
		live[c.AcctSessionID] = c
	}

	stored, err := r.st.OpenSessionsForRouter(ctx, routerID)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(stored))
	var gone []string
	for _, sess := range stored {
		known[sess.AcctSessionID] = struct{}{}
		if _, ok := live[sess.AcctSessionID]; !ok {
			gone = append(gone, sess.AcctUniqueID)
		}
	}
	if len(gone) > 0 {
		if err := r.st.CloseSessions(ctx, gone, r.now()); err != nil {
			return err
		}
	}

	var imported int
	for _, c := range list.Clients {
		if _, ok := known[c.AcctSessionID]; ok {
			continue
		}
		rid := routerID
		sess := model.Session{
			AcctUniqueID:     routerID + ":" + c.AcctSessionID,
			AcctSessionID:    c.AcctSessionID,
			Username:         c.Username,
			RouterID:         &rid,
			CallingStationID: c.MAC,
			FramedIPAddress:  c.IPAddress,
			AcctStartTime:    time.Unix(c.StartTime, 0).UTC(),
			AcctInputOctets:  c.InputOctets,
			AcctOutputOctets: c.OutputOctets,
		}
		if err := r.st.ImportSession(ctx, sess); err != nil {
			return err
		}
		imported++
	}

	if len(gone) > 0 || imported > 0 {
		log.Printf("[reconcile] %s: closed %d, imported %d", routerID, len(gone), imported)
	}
	return nil
}
