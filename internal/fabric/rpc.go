package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

var (
	// ErrTimeout is returned when a router does not answer within the RPC
	// deadline. The correlation entry is evicted; late responses are dropped.
	ErrTimeout = errors.New("fabric: rpc timeout")
	// ErrRouterBusy is returned when a router already has the maximum number
	// of outstanding calls.
	ErrRouterBusy = errors.New("fabric: router busy")
)

// Request is the RPC envelope published on the router's rpc/request topic.
// Args are opaque JSON; the edge dispatches on path+method.
type Request struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response is the envelope the edge publishes on rpc/response.
type Response struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Stderr string          `json:"stderr,omitempty"`
}

// Ok reports whether the edge executed the call successfully.
func (r *Response) Ok() bool { return r.Status == "success" }

type pendingCall struct {
	routerID string
	ch       chan *Response
}

// RPC correlates request/response pairs across a horizontally scaled cloud.
// Request ids embed the originating instance id so non-owning instances can
// short-circuit responses that are not theirs.
type RPC struct {
	bus            Bus
	instanceID     string
	timeout        time.Duration
	maxOutstanding int

	pending     *xsync.Map[string, *pendingCall]
	outstanding *xsync.Map[string, *atomic.Int64]
	seq         atomic.Uint64
}

// NewRPC creates the correlation layer. instanceID must be locally unique per
// cloud instance (a startup UUID).
func NewRPC(bus Bus, instanceID string, timeout time.Duration, maxOutstanding int) *RPC {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxOutstanding <= 0 {
		maxOutstanding = 64
	}
	return &RPC{
		bus:            bus,
		instanceID:     instanceID,
		timeout:        timeout,
		maxOutstanding: maxOutstanding,
		pending:        xsync.NewMap[string, *pendingCall](),
		outstanding:    xsync.NewMap[string, *atomic.Int64](),
	}
}

// Start subscribes to the response wildcard. Must be called once after the
// bus is connected.
func (r *RPC) Start() error {
	return r.bus.Subscribe(RPCResponseWildcard, 0, r.handleResponse)
}

// Call publishes an RPC to the router and waits for the correlated response,
// the RPC timeout, or ctx cancellation, whichever comes first.
func (r *RPC) Call(ctx context.Context, routerID, path, method string, args any) (*Response, error) {
	counter, _ := r.outstanding.LoadOrCompute(routerID, func() (*atomic.Int64, bool) {
		return &atomic.Int64{}, false
	})
	if counter.Add(1) > int64(r.maxOutstanding) {
		counter.Add(-1)
		return nil, ErrRouterBusy
	}
	defer counter.Add(-1)

	var rawArgs json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("fabric: marshal args: %w", err)
		}
		rawArgs = b
	}

	id := fmt.Sprintf("%s-%d", r.instanceID, r.seq.Add(1))
	call := &pendingCall{routerID: routerID, ch: make(chan *Response, 1)}
	r.pending.Store(id, call)
	defer r.pending.Delete(id)

	payload, err := json.Marshal(Request{ID: id, Path: path, Method: method, Args: rawArgs})
	if err != nil {
		return nil, fmt.Errorf("fabric: marshal request: %w", err)
	}
	if err := r.bus.Publish(RPCRequestTopic(routerID), 0, false, payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-call.ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleResponse resolves the pending call for our instance, exactly once.
// Responses owned by other instances or already-evicted calls are dropped
// silently.
func (r *RPC) handleResponse(topic string, payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Printf("[fabric] dropping malformed rpc response on %s: %v", topic, err)
		return
	}
	if resp.ID == "" || !strings.HasPrefix(resp.ID, r.instanceID+"-") {
		return
	}
	call, ok := r.pending.LoadAndDelete(resp.ID)
	if !ok {
		return
	}
	select {
	case call.ch <- &resp:
	default:
	}
}

// Outstanding reports in-flight calls for a router. Used by tests and the
// admin surface.
func (r *RPC) Outstanding(routerID string) int {
	c, ok := r.outstanding.Load(routerID)
	if !ok {
		return 0
	}
	return int(c.Load())
}
