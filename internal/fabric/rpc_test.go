package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBus is an in-process Bus: published messages are recorded, and
// subscriptions can be fed messages directly.
type fakeBus struct {
	mu        sync.Mutex
	published []struct {
		topic   string
		payload []byte
	}
	handlers  map[string]Handler
	connected bool
	pubErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]Handler{}, connected: true}
}

func (b *fakeBus) Publish(topic string, _ byte, _ bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published = append(b.published, struct {
		topic   string
		payload []byte
	}{topic, payload})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBus) Connected() bool { return b.connected }

func (b *fakeBus) deliver(topic string, payload []byte) {
	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

func (b *fakeBus) lastPublished(t *testing.T) (string, []byte) {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		t.Fatal("nothing published")
	}
	last := b.published[len(b.published)-1]
	return last.topic, last.payload
}

func TestRPC_CallResolvesExactlyOnce(t *testing.T) {
	bus := newFakeBus()
	rpc := NewRPC(bus, "inst1", time.Second, 64)
	if err := rpc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	var resp *Response
	var callErr error
	go func() {
		defer close(done)
		resp, callErr = rpc.Call(context.Background(), "R1", "system", "info", nil)
	}()

	// Wait for the request to be published, then answer it.
	var req Request
	deadline := time.After(time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.published)
		bus.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("request never published")
		case <-time.After(5 * time.Millisecond):
		}
	}
	topic, payload := bus.lastPublished(t)
	if topic != "spotfi/router/R1/rpc/request" {
		t.Fatalf("request topic = %q", topic)
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	answer, _ := json.Marshal(Response{ID: req.ID, Status: "success"})
	bus.deliver(RPCResponseTopic("R1"), answer)
	// A duplicate of the same response must be dropped silently.
	bus.deliver(RPCResponseTopic("R1"), answer)

	<-done
	if callErr != nil {
		t.Fatalf("Call: %v", callErr)
	}
	if !resp.Ok() {
		t.Fatalf("response status = %q, want success", resp.Status)
	}
	if rpc.Outstanding("R1") != 0 {
		t.Fatalf("outstanding = %d, want 0", rpc.Outstanding("R1"))
	}
}

func TestRPC_TimeoutEvictsCorrelationEntry(t *testing.T) {
	bus := newFakeBus()
	rpc := NewRPC(bus, "inst1", 30*time.Millisecond, 64)
	if err := rpc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := rpc.Call(context.Background(), "R1", "system", "info", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	// The entry is gone: a late response must not panic or resolve anything.
	_, payload := bus.lastPublished(t)
	var req Request
	_ = json.Unmarshal(payload, &req)
	late, _ := json.Marshal(Response{ID: req.ID, Status: "success"})
	bus.deliver(RPCResponseTopic("R1"), late)

	if n := rpc.pending.Size(); n != 0 {
		t.Fatalf("pending size = %d, want 0", n)
	}
}

func TestRPC_ForeignInstanceResponseDropped(t *testing.T) {
	bus := newFakeBus()
	rpc := NewRPC(bus, "inst1", time.Second, 64)
	if err := rpc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Response correlated to another instance's request id.
	foreign, _ := json.Marshal(Response{ID: "inst2-42", Status: "success"})
	bus.deliver(RPCResponseTopic("R1"), foreign)

	// Malformed JSON must be logged and dropped, never crash.
	bus.deliver(RPCResponseTopic("R1"), []byte("{not json"))
}

func TestRPC_RouterBusy(t *testing.T) {
	bus := newFakeBus()
	rpc := NewRPC(bus, "inst1", 200*time.Millisecond, 2)
	if err := rpc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rpc.Call(context.Background(), "R1", "system", "info", nil)
		}()
	}
	// Let the two calls occupy the router's budget.
	time.Sleep(20 * time.Millisecond)

	_, err := rpc.Call(context.Background(), "R1", "system", "info", nil)
	if !errors.Is(err, ErrRouterBusy) {
		t.Fatalf("err = %v, want ErrRouterBusy", err)
	}
	wg.Wait()
}

func TestRPC_BrokerUnavailable(t *testing.T) {
	bus := newFakeBus()
	bus.pubErr = ErrBrokerUnavailable
	rpc := NewRPC(bus, "inst1", time.Second, 64)
	if err := rpc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := rpc.Call(context.Background(), "R1", "uspot", "client_remove",
		map[string]string{"mac": "AA:BB:CC:DD:EE:FF"})
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Fatalf("err = %v, want ErrBrokerUnavailable", err)
	}
}

func TestRPC_ArgsPassThroughAsJSON(t *testing.T) {
	bus := newFakeBus()
	rpc := NewRPC(bus, "inst1", 50*time.Millisecond, 64)
	if err := rpc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, _ = rpc.Call(context.Background(), "R9", "uspot", "client_remove",
		map[string]string{"mac": "80AFCAC67055"})

	_, payload := bus.lastPublished(t)
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Path != "uspot" || req.Method != "client_remove" {
		t.Fatalf("path/method = %s/%s", req.Path, req.Method)
	}
	var args map[string]string
	if err := json.Unmarshal(req.Args, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args["mac"] != "80AFCAC67055" {
		t.Fatalf("args.mac = %q", args["mac"])
	}
}
