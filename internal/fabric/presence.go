package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/spotfi/spotfi/internal/ephemeral"
	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/scanloop"
	"github.com/spotfi/spotfi/internal/store"
)

// PresenceStore is the relational surface the pipeline writes through.
type PresenceStore interface {
	FlushRouterPresence(ctx context.Context, seen []store.RouterSeen) error
	MarkRoutersOffline(ctx context.Context, ids []string) error
	ListRoutersWithStatus(ctx context.Context, status model.RouterStatus) ([]string, error)
	GetRouter(ctx context.Context, id string) (*model.Router, error)
	UpsertNAS(ctx context.Context, nasname, shortname, secret string) error
}

// Heartbeat is the metrics payload routers publish every ~30s.
type Heartbeat struct {
	Sessions int    `json:"sessions"`
	NASIP    string `json:"nasIp,omitempty"`
	Uptime   int64  `json:"uptime,omitempty"`
}

// PresencePipeline consumes status and metrics topics. Liveness goes to the
// ephemeral store immediately; relational lastSeen/status updates are merged
// in a buffer and flushed in bulk to avoid per-heartbeat row contention.
type PresencePipeline struct {
	bus        Bus
	es         *ephemeral.Presence
	rs         PresenceStore
	flushEvery time.Duration
	reconcile  func(routerID string)
	now        func() time.Time

	mu     sync.Mutex
	buffer map[string]store.RouterSeen

	stopCh chan struct{}
	done   sync.WaitGroup
}

// PresencePipelineConfig wires the pipeline's collaborators.
type PresencePipelineConfig struct {
	Bus        Bus
	Ephemeral  *ephemeral.Presence
	Store      PresenceStore
	FlushEvery time.Duration
	// Reconcile is invoked when a router goes OFFLINE or reappears, so the
	// session engine can re-sync its accounting rows.
	Reconcile func(routerID string)
}

func NewPresencePipeline(cfg PresencePipelineConfig) *PresencePipeline {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 15 * time.Second
	}
	reconcile := cfg.Reconcile
	if reconcile == nil {
		reconcile = func(string) {}
	}
	return &PresencePipeline{
		bus:        cfg.Bus,
		es:         cfg.Ephemeral,
		rs:         cfg.Store,
		flushEvery: cfg.FlushEvery,
		reconcile:  reconcile,
		now:        time.Now,
		buffer:     map[string]store.RouterSeen{},
		stopCh:     make(chan struct{}),
	}
}

// Start subscribes to the presence topics and begins the flush loop.
func (p *PresencePipeline) Start() error {
	if err := p.bus.Subscribe(StatusWildcard, 1, p.handleStatus); err != nil {
		return err
	}
	if err := p.bus.Subscribe(MetricsWildcard, 0, p.handleMetrics); err != nil {
		return err
	}
	p.done.Add(1)
	go func() {
		defer p.done.Done()
		scanloop.Run(p.stopCh, p.flushEvery, p.flushEvery/4, func() {
			p.Flush(context.Background())
		})
	}()
	return nil
}

// Stop halts the flush loop after a final flush.
func (p *PresencePipeline) Stop() {
	close(p.stopCh)
	p.done.Wait()
	p.Flush(context.Background())
}

func (p *PresencePipeline) handleStatus(topic string, payload []byte) {
	routerID, leaf, ok := SplitRouterTopic(topic)
	if !ok || leaf != "status" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch string(bytes.TrimSpace(payload)) {
	case "ONLINE":
		if err := p.es.SetOnline(ctx, routerID); err != nil {
			log.Printf("[presence] set online %s: %v", routerID, err)
		}
		p.record(routerID, model.RouterOnline, "")
		p.ensureNAS(ctx, routerID)
		p.reconcile(routerID)
	case "OFFLINE":
		if err := p.es.SetOffline(ctx, routerID); err != nil {
			log.Printf("[presence] set offline %s: %v", routerID, err)
		}
		p.record(routerID, model.RouterOffline, "")
		p.reconcile(routerID)
	default:
		log.Printf("[presence] unknown status %q from %s", payload, routerID)
	}
}

func (p *PresencePipeline) handleMetrics(topic string, payload []byte) {
	routerID, leaf, ok := SplitRouterTopic(topic)
	if !ok || leaf != "metrics" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A heartbeat is proof of life even when its body does not parse.
	if err := p.es.Refresh(ctx, routerID); err != nil {
		log.Printf("[presence] refresh %s: %v", routerID, err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(payload, &hb); err != nil {
		log.Printf("[presence] dropping malformed heartbeat from %s: %v", routerID, err)
		p.record(routerID, model.RouterOnline, "")
		return
	}
	if err := p.es.SetSessionCount(ctx, routerID, hb.Sessions); err != nil {
		log.Printf("[presence] session count %s: %v", routerID, err)
	}
	p.record(routerID, model.RouterOnline, hb.NASIP)
}

// record merges one observation into the flush buffer. Later observations win;
// a known NAS IP is never overwritten by an empty one.
func (p *PresencePipeline) record(routerID string, status model.RouterStatus, nasIP string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.buffer[routerID]
	if nasIP == "" {
		nasIP = prev.NASIP
	}
	p.buffer[routerID] = store.RouterSeen{
		RouterID: routerID,
		Status:   status,
		LastSeen: p.now(),
		NASIP:    nasIP,
	}
}

// Flush writes the merged observations to the relational store in one batch.
func (p *PresencePipeline) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	seen := make([]store.RouterSeen, 0, len(p.buffer))
	for _, o := range p.buffer {
		seen = append(seen, o)
	}
	p.buffer = map[string]store.RouterSeen{}
	p.mu.Unlock()

	if err := p.rs.FlushRouterPresence(ctx, seen); err != nil {
		log.Printf("[presence] flush %d observations: %v", len(seen), err)
	}
}

// ensureNAS keeps the shared RADIUS service's client table in step with the
// router that just connected.
func (p *PresencePipeline) ensureNAS(ctx context.Context, routerID string) {
	r, err := p.rs.GetRouter(ctx, routerID)
	if err != nil {
		log.Printf("[presence] nas upsert, load router %s: %v", routerID, err)
		return
	}
	if r.NASIPAddress == "" {
		return
	}
	if err := p.rs.UpsertNAS(ctx, r.NASIPAddress, r.Name, r.RadiusSecret); err != nil {
		log.Printf("[presence] nas upsert %s: %v", routerID, err)
	}
}

// Sweep demotes routers whose liveness key expired without a heartbeat.
// Runs from the scheduler; ONLINE in the relational store but absent from the
// ephemeral store means the router went silent.
func (p *PresencePipeline) Sweep(ctx context.Context) error {
	ids, err := p.rs.ListRoutersWithStatus(ctx, model.RouterOnline)
	if err != nil {
		return err
	}
	var stale []string
	for _, id := range ids {
		online, err := p.es.IsOnline(ctx, id)
		if err != nil {
			return err
		}
		if !online {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	log.Printf("[presence] sweeping %d silent routers offline", len(stale))
	if err := p.rs.MarkRoutersOffline(ctx, stale); err != nil {
		return err
	}
	for _, id := range stale {
		p.reconcile(id)
	}
	return nil
}
