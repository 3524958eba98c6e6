package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spotfi/spotfi/internal/fabric"
	"github.com/spotfi/spotfi/internal/store"
)

// TunnelOpener starts and drives shell-tunnel sessions to routers.
type TunnelOpener interface {
	Open(ctx context.Context, routerID string) (*fabric.TunnelSession, error)
	Write(s *fabric.TunnelSession, data []byte) error
	Close(s *fabric.TunnelSession)
}

// The admin UI connects cross-origin; the token query parameter is the
// authentication boundary, not the Origin header.
var tunnelUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleTunnel returns a handler for GET /x?router=R1. It upgrades to a
// WebSocket and bridges binary messages to the router's pseudo-terminal over
// the broker.
func HandleTunnel(st RouterStore, tun TunnelOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routerID := r.URL.Query().Get("router")
		if routerID == "" {
			WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "router query parameter required")
			return
		}
		router, err := st.GetRouter(r.Context(), routerID)
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown router")
			return
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}

		openCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		sess, err := tun.Open(openCtx, router.ID)
		cancel()
		switch {
		case errors.Is(err, fabric.ErrTimeout):
			WriteError(w, http.StatusGatewayTimeout, "RPC_TIMEOUT", "router did not start the shell")
			return
		case errors.Is(err, fabric.ErrBrokerUnavailable):
			WriteError(w, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE", "broker offline")
			return
		case err != nil:
			WriteError(w, http.StatusBadGateway, "TUNNEL_FAILED", err.Error())
			return
		}

		conn, err := tunnelUpgrader.Upgrade(w, r, nil)
		if err != nil {
			tun.Close(sess)
			log.Printf("[api] tunnel upgrade for %s: %v", router.ID, err)
			return
		}
		bridgeTunnel(conn, sess, tun)
	}
}

// bridgeTunnel pumps bytes both ways until either side hangs up. Closing the
// session publishes x-stop so the edge tears down its shell.
func bridgeTunnel(conn *websocket.Conn, sess *fabric.TunnelSession, tun TunnelOpener) {
	defer conn.Close()
	defer tun.Close(sess)

	go func() {
		for {
			select {
			case data := <-sess.Output():
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return
				}
			case <-sess.Done():
				deadline := time.Now().Add(time.Second)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := tun.Write(sess, data); err != nil {
			return
		}
	}
}
