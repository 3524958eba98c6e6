package fabric

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/spotfi/spotfi/internal/scanloop"
)

// ErrTunnelClosed is returned when writing to a session that has ended.
var ErrTunnelClosed = errors.New("fabric: tunnel closed")

// Tunnel frame types exchanged on the x/in and x/out topics.
const (
	frameStart   = "x-start"
	frameStarted = "x-started"
	frameData    = "x-data"
	frameStop    = "x-stop"
)

// TunnelFrame is the envelope for shell-tunnel traffic. Data is base64 of the
// raw pseudo-terminal bytes.
type TunnelFrame struct {
	Type          string `json:"type"`
	SessionID     string `json:"sessionId"`
	ResponseTopic string `json:"responseTopic,omitempty"`
	Status        string `json:"status,omitempty"`
	Data          string `json:"data,omitempty"`
}

// TunnelSession is one interactive shell multiplexed over the broker.
// Output carries decoded terminal bytes from the device.
type TunnelSession struct {
	ID       string
	RouterID string

	out      chan []byte
	started  chan string
	lastSeen atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// Output streams decoded bytes from the router's pseudo-terminal. The channel
// is never closed; consumers select on Done to observe the end of the session.
func (s *TunnelSession) Output() <-chan []byte { return s.out }

// Done is closed when the session ends, whichever side ended it.
func (s *TunnelSession) Done() <-chan struct{} { return s.closed }

// TunnelMux owns this instance's tunnel sessions. Sessions are per-instance
// state: the instance that accepted the WebSocket runs the session.
type TunnelMux struct {
	bus          Bus
	idleTimeout  time.Duration
	startTimeout time.Duration
	newSessionID func() string

	sessions *xsync.Map[string, *TunnelSession]

	stopCh chan struct{}
	done   sync.WaitGroup
}

// TunnelMuxConfig configures the multiplexer.
type TunnelMuxConfig struct {
	Bus          Bus
	IdleTimeout  time.Duration
	StartTimeout time.Duration
}

func NewTunnelMux(cfg TunnelMuxConfig) *TunnelMux {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	return &TunnelMux{
		bus:          cfg.Bus,
		idleTimeout:  cfg.IdleTimeout,
		startTimeout: cfg.StartTimeout,
		newSessionID: uuid.NewString,
		sessions:     xsync.NewMap[string, *TunnelSession](),
		stopCh:       make(chan struct{}),
	}
}

// Start subscribes to the device-to-cloud tunnel wildcard and begins reaping
// idle sessions.
func (m *TunnelMux) Start() error {
	if err := m.bus.Subscribe(TunnelOutWildcard, 0, m.handleFrame); err != nil {
		return err
	}
	m.done.Add(1)
	go func() {
		defer m.done.Done()
		scanloop.Run(m.stopCh, 30*time.Second, 5*time.Second, m.reapIdle)
	}()
	return nil
}

// Stop closes every open session and halts the reaper.
func (m *TunnelMux) Stop() {
	close(m.stopCh)
	m.done.Wait()
	m.sessions.Range(func(_ string, s *TunnelSession) bool {
		m.Close(s)
		return true
	})
}

// Open closes any prior sessions to the router, then starts a fresh one and
// waits for the edge's x-started acknowledgement. Ghost terminals from an
// earlier cloud connection would otherwise keep consuming the device.
func (m *TunnelMux) Open(ctx context.Context, routerID string) (*TunnelSession, error) {
	m.sessions.Range(func(_ string, s *TunnelSession) bool {
		if s.RouterID == routerID {
			m.Close(s)
		}
		return true
	})

	s := &TunnelSession{
		ID:       m.newSessionID(),
		RouterID: routerID,
		out:      make(chan []byte, 64),
		started:  make(chan string, 1),
		closed:   make(chan struct{}),
	}
	s.lastSeen.Store(time.Now().UnixNano())
	m.sessions.Store(s.ID, s)

	err := m.publish(routerID, TunnelFrame{
		Type:          frameStart,
		SessionID:     s.ID,
		ResponseTopic: TunnelOutTopic(routerID),
	})
	if err != nil {
		m.drop(s)
		return nil, err
	}

	timer := time.NewTimer(m.startTimeout)
	defer timer.Stop()
	select {
	case status := <-s.started:
		if status != "ready" {
			m.drop(s)
			return nil, fmt.Errorf("fabric: tunnel start: edge reported %q", status)
		}
		return s, nil
	case <-timer.C:
		m.drop(s)
		return nil, ErrTimeout
	case <-ctx.Done():
		m.drop(s)
		return nil, ctx.Err()
	}
}

// Write sends terminal input to the device.
func (m *TunnelMux) Write(s *TunnelSession, data []byte) error {
	select {
	case <-s.closed:
		return ErrTunnelClosed
	default:
	}
	return m.publish(s.RouterID, TunnelFrame{
		Type:      frameData,
		SessionID: s.ID,
		Data:      base64.StdEncoding.EncodeToString(data),
	})
}

// Close ends the session, telling the edge to tear down its pseudo-terminal.
// Only s.closed is closed; s.out stays open because a frame handler that
// loaded the session before the registry delete may still be sending on it.
func (m *TunnelMux) Close(s *TunnelSession) {
	s.closeOnce.Do(func() {
		close(s.closed)
		m.sessions.Delete(s.ID)
		if err := m.publish(s.RouterID, TunnelFrame{Type: frameStop, SessionID: s.ID}); err != nil {
			log.Printf("[tunnel] stop %s: %v", s.ID, err)
		}
	})
}

// drop removes a session without notifying the edge (it never started, or the
// edge itself ended it).
func (m *TunnelMux) drop(s *TunnelSession) {
	s.closeOnce.Do(func() {
		close(s.closed)
		m.sessions.Delete(s.ID)
	})
}

func (m *TunnelMux) publish(routerID string, f TunnelFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("fabric: marshal frame: %w", err)
	}
	return m.bus.Publish(TunnelInTopic(routerID), 0, false, payload)
}

func (m *TunnelMux) handleFrame(topic string, payload []byte) {
	routerID, leaf, ok := SplitRouterTopic(topic)
	if !ok || leaf != "x/out" {
		return
	}
	var f TunnelFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		log.Printf("[tunnel] dropping malformed frame from %s: %v", routerID, err)
		return
	}
	s, ok := m.sessions.Load(f.SessionID)
	if !ok {
		// Session owned by another instance, or already reaped.
		return
	}
	m.dispatch(s, f)
}

// dispatch applies one frame to a session. The session may have been closed
// between the registry load and this call; every path here must stay safe
// against that.
func (m *TunnelMux) dispatch(s *TunnelSession, f TunnelFrame) {
	s.lastSeen.Store(time.Now().UnixNano())

	switch f.Type {
	case frameStarted:
		select {
		case s.started <- f.Status:
		default:
		}
	case frameData:
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			log.Printf("[tunnel] bad base64 on %s: %v", f.SessionID, err)
			return
		}
		select {
		case <-s.closed:
		case s.out <- data:
		default:
			log.Printf("[tunnel] output backlog on %s, dropping %d bytes", f.SessionID, len(data))
		}
	case frameStop:
		m.drop(s)
	default:
		log.Printf("[tunnel] unknown frame type %q on %s", f.Type, f.SessionID)
	}
}

// reapIdle closes sessions with no device traffic for the idle timeout.
func (m *TunnelMux) reapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout).UnixNano()
	m.sessions.Range(func(_ string, s *TunnelSession) bool {
		if s.lastSeen.Load() < cutoff {
			log.Printf("[tunnel] reaping idle session %s (router %s)", s.ID, s.RouterID)
			m.Close(s)
		}
		return true
	})
}

// ActiveSessions reports open tunnel count, for the admin surface.
func (m *TunnelMux) ActiveSessions() int { return m.sessions.Size() }
