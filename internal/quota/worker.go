package quota

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spotfi/spotfi/internal/fabric"
	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/store"
)

// DisconnectStore is the queue and session surface the worker writes through.
type DisconnectStore interface {
	GetDisconnectJob(ctx context.Context, id int64) (*model.DisconnectJob, error)
	PendingDisconnectJobs(ctx context.Context, limit int) ([]model.DisconnectJob, error)
	MarkDisconnectProcessed(ctx context.Context, id int64, at time.Time) error
	OpenSessionsForUser(ctx context.Context, username string) ([]model.Session, error)
	CloseSessions(ctx context.Context, acctUniqueIDs []string, now time.Time) error
	InsertRejectRule(ctx context.Context, username string) error
}

// EdgeCaller issues one RPC to a router.
type EdgeCaller interface {
	Call(ctx context.Context, routerID, path, method string, args any) (*fabric.Response, error)
}

// OnlineChecker answers whether a router is live right now.
type OnlineChecker interface {
	IsOnline(ctx context.Context, routerID string) (bool, error)
}

// DisconnectWorker drains the durable disconnect queue: kick the user off
// every online router, insert the reject rule, close what was kicked, stamp
// the job. Jobs arrive over the notification channel; a polling fallback can
// be enabled for deployments without LISTEN support.
type DisconnectWorker struct {
	st       DisconnectStore
	edge     EdgeCaller
	presence OnlineChecker

	jobs         <-chan int64
	pollInterval time.Duration
	limiter      *rate.Limiter
	sem          chan struct{}
	backoffs     []time.Duration
	now          func() time.Time

	stopCh chan struct{}
	done   sync.WaitGroup
}

// DisconnectWorkerConfig wires the worker. Zero values get the production
// defaults: 20 concurrent jobs, 100 jobs/s, retries at 2s/4s/8s.
type DisconnectWorkerConfig struct {
	Store        DisconnectStore
	Edge         EdgeCaller
	Presence     OnlineChecker
	Jobs         <-chan int64
	Concurrency  int
	RatePerSec   int
	PollInterval time.Duration
	Backoffs     []time.Duration
}

func NewDisconnectWorker(cfg DisconnectWorkerConfig) *DisconnectWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 20
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 100
	}
	backoffs := cfg.Backoffs
	if len(backoffs) == 0 {
		backoffs = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}
	return &DisconnectWorker{
		st:           cfg.Store,
		edge:         cfg.Edge,
		presence:     cfg.Presence,
		jobs:         cfg.Jobs,
		pollInterval: cfg.PollInterval,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		sem:          make(chan struct{}, cfg.Concurrency),
		backoffs:     backoffs,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the dispatch loop. Unprocessed jobs left over from a previous
// run are picked up first, so a restart never strands a disconnect.
func (w *DisconnectWorker) Start() {
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		w.catchUp()
		w.run()
	}()
}

// Stop halts dispatch and waits for in-flight jobs.
func (w *DisconnectWorker) Stop() {
	close(w.stopCh)
	w.done.Wait()
}

func (w *DisconnectWorker) run() {
	var poll <-chan time.Time
	if w.pollInterval > 0 {
		t := time.NewTicker(w.pollInterval)
		defer t.Stop()
		poll = t.C
	}
	for {
		select {
		case <-w.stopCh:
			return
		case id, ok := <-w.jobs:
			if !ok {
				return
			}
			w.dispatch(id)
		case <-poll:
			w.catchUp()
		}
	}
}

// catchUp drains whatever is already pending in the queue table.
func (w *DisconnectWorker) catchUp() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	jobs, err := w.st.PendingDisconnectJobs(ctx, 1000)
	if err != nil {
		log.Printf("[disconnect] pending scan: %v", err)
		return
	}
	for _, j := range jobs {
		w.dispatch(j.ID)
	}
}

// dispatch runs one job on the bounded pool, honoring the global rate.
func (w *DisconnectWorker) dispatch(id int64) {
	select {
	case w.sem <- struct{}{}:
	case <-w.stopCh:
		return
	}
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		defer func() { <-w.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		w.process(ctx, id)
	}()
}

// process executes the job with bounded retries. After exhaustion the row is
// stamped processed anyway so the queue never loops forever.
func (w *DisconnectWorker) process(ctx context.Context, id int64) {
	job, err := w.st.GetDisconnectJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("[disconnect] load job %d: %v", id, err)
		return
	}
	if job.Processed {
		return
	}

	for attempt := 0; ; attempt++ {
		err = w.disconnect(ctx, job.Username)
		if err == nil {
			break
		}
		if attempt >= len(w.backoffs) {
			log.Printf("[disconnect] job %d (%s, %s) failed after %d attempts: %v",
				job.ID, job.Username, job.Reason, attempt+1, err)
			break
		}
		log.Printf("[disconnect] job %d attempt %d: %v", job.ID, attempt+1, err)
		select {
		case <-time.After(w.backoffs[attempt]):
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}

	if err := w.st.MarkDisconnectProcessed(ctx, job.ID, w.now()); err != nil {
		log.Printf("[disconnect] mark job %d processed: %v", job.ID, err)
	}
}

// disconnect kicks the user's clients from every online router, blocks
// reauthentication, and closes the sessions the routers actually dropped.
// Sessions on offline routers are left for reconciliation to close.
func (w *DisconnectWorker) disconnect(ctx context.Context, username string) error {
	sessions, err := w.st.OpenSessionsForUser(ctx, username)
	if err != nil {
		return err
	}

	var accepted []string
	for _, sess := range sessions {
		if sess.RouterID == nil || sess.CallingStationID == "" {
			continue
		}
		online, err := w.presence.IsOnline(ctx, *sess.RouterID)
		if err != nil {
			return err
		}
		if !online {
			continue
		}
		resp, err := w.edge.Call(ctx, *sess.RouterID, "uspot", "client_remove",
			map[string]string{"mac": sess.CallingStationID})
		if err != nil {
			log.Printf("[disconnect] client_remove %s on %s: %v",
				sess.CallingStationID, *sess.RouterID, err)
			continue
		}
		if !resp.Ok() {
			log.Printf("[disconnect] client_remove %s on %s rejected: %s",
				sess.CallingStationID, *sess.RouterID, resp.Error)
			continue
		}
		accepted = append(accepted, sess.AcctUniqueID)
	}

	if err := w.st.InsertRejectRule(ctx, username); err != nil {
		return err
	}
	if len(accepted) > 0 {
		if err := w.st.CloseSessions(ctx, accepted, w.now()); err != nil {
			return err
		}
	}
	return nil
}
