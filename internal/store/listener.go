package store

import (
	"context"
	"log"
	"strconv"
	"time"
)

// NotifyChannel is the postgres channel the exhaustion trigger signals on.
const NotifyChannel = "disconnect_jobs"

const (
	listenBackoffMin = time.Second
	listenBackoffMax = 30 * time.Second
)

// Listener holds a dedicated connection in LISTEN mode and forwards job ids
// to Jobs. Target latency from trigger to pickup is well under 100 ms; the
// connection is re-established with exponential backoff on failure.
type Listener struct {
	store *Store
	jobs  chan int64

	stopCh chan struct{}
	done   chan struct{}
}

// NewListener creates a listener with a bounded job buffer.
func NewListener(store *Store, buffer int) *Listener {
	if buffer <= 0 {
		buffer = 256
	}
	return &Listener{
		store:  store,
		jobs:   make(chan int64, buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Jobs is the stream of disconnect-queue row ids.
func (l *Listener) Jobs() <-chan int64 { return l.jobs }

// Start launches the listen loop.
func (l *Listener) Start() {
	go l.run()
}

// Stop terminates the loop and waits for it to exit.
func (l *Listener) Stop() {
	close(l.stopCh)
	<-l.done
}

func (l *Listener) run() {
	defer close(l.done)
	defer close(l.jobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-l.stopCh
		cancel()
	}()

	backoff := listenBackoffMin
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[listener] connection lost: %v; retrying in %s", err, backoff)

		select {
		case <-l.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > listenBackoffMax {
			backoff = listenBackoffMax
		}
	}
}

// listenOnce acquires a dedicated connection, LISTENs, and blocks on
// notifications until the connection or context dies.
func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	log.Printf("[listener] listening on channel %q", NotifyChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			// Malformed payloads never crash the consumer.
			log.Printf("[listener] dropping malformed payload %q", n.Payload)
			continue
		}
		select {
		case l.jobs <- id:
		default:
			log.Printf("[listener] job buffer full, dropping id %d (poll fallback will catch up)", id)
		}
	}
}
