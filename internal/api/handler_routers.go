package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spotfi/spotfi/internal/fabric"
	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/portal"
	"github.com/spotfi/spotfi/internal/store"
)

// RouterStore is the router lookup surface the admin handlers read.
type RouterStore interface {
	ListRouters(ctx context.Context) ([]model.Router, error)
	GetRouter(ctx context.Context, id string) (*model.Router, error)
}

// PresenceReader decorates router rows with live state.
type PresenceReader interface {
	IsOnline(ctx context.Context, routerID string) (bool, error)
	SessionCount(ctx context.Context, routerID string) (int, error)
}

// EdgeCaller issues one RPC to a router.
type EdgeCaller interface {
	Call(ctx context.Context, routerID, path, method string, args any) (*fabric.Response, error)
}

// RouterView is a router row decorated with ephemeral liveness.
type RouterView struct {
	model.Router
	Online       bool `json:"online"`
	LiveSessions int  `json:"live_sessions"`
}

func routerView(ctx context.Context, pres PresenceReader, r model.Router) RouterView {
	v := RouterView{Router: r}
	if pres == nil {
		return v
	}
	if online, err := pres.IsOnline(ctx, r.ID); err == nil {
		v.Online = online
	}
	if n, err := pres.SessionCount(ctx, r.ID); err == nil {
		v.LiveSessions = n
	}
	return v
}

// HandleListRouters returns a handler for GET /api/v1/routers.
func HandleListRouters(st RouterStore, pres PresenceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routers, err := st.ListRouters(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		views := make([]RouterView, 0, len(routers))
		for _, router := range routers {
			views = append(views, routerView(r.Context(), pres, router))
		}
		WriteJSON(w, http.StatusOK, views)
	}
}

// HandleGetRouter returns a handler for GET /api/v1/routers/{id}.
func HandleGetRouter(st RouterStore, pres PresenceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router, ok := loadRouter(w, r, st)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, routerView(r.Context(), pres, *router))
	}
}

// rpcRequest is the body of a proxied device call.
type rpcRequest struct {
	Path   string          `json:"path"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// HandleRouterRPC returns a handler for POST /api/v1/routers/{id}/actions/rpc.
// The body names a device-side operation; the response envelope is passed
// through untouched.
func HandleRouterRPC(st RouterStore, edge EdgeCaller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router, ok := loadRouter(w, r, st)
		if !ok {
			return
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if req.Path == "" || req.Method == "" {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", "path and method are required")
			return
		}

		resp, err := edge.Call(r.Context(), router.ID, req.Path, req.Method, req.Args)
		switch {
		case errors.Is(err, fabric.ErrTimeout):
			WriteError(w, http.StatusGatewayTimeout, "RPC_TIMEOUT", "router did not answer")
		case errors.Is(err, fabric.ErrRouterBusy):
			WriteError(w, http.StatusTooManyRequests, "ROUTER_BUSY", "too many outstanding calls")
		case errors.Is(err, fabric.ErrBrokerUnavailable):
			WriteError(w, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE", "broker offline")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		default:
			WriteJSON(w, http.StatusOK, resp)
		}
	}
}

// kickRequest names the client to remove from the hotspot.
type kickRequest struct {
	MAC string `json:"mac"`
}

// HandleRouterKick returns a handler for
// POST /api/v1/routers/{id}/actions/kick. It removes one client from the
// router's hotspot without touching the user's service state.
func HandleRouterKick(st RouterStore, edge EdgeCaller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router, ok := loadRouter(w, r, st)
		if !ok {
			return
		}
		var req kickRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		if portal.NormalizeMAC(req.MAC) == "" {
			WriteError(w, http.StatusBadRequest, "INVALID_BODY", "mac is not a MAC address")
			return
		}

		resp, err := edge.Call(r.Context(), router.ID, "uspot", "client_remove",
			map[string]string{"mac": req.MAC})
		switch {
		case errors.Is(err, fabric.ErrTimeout):
			WriteError(w, http.StatusGatewayTimeout, "RPC_TIMEOUT", "router did not answer")
		case errors.Is(err, fabric.ErrBrokerUnavailable):
			WriteError(w, http.StatusServiceUnavailable, "BROKER_UNAVAILABLE", "broker offline")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		case !resp.Ok():
			WriteError(w, http.StatusBadGateway, "EDGE_ERROR", resp.Error)
		default:
			WriteJSON(w, http.StatusOK, map[string]string{"status": "kicked"})
		}
	}
}

// HandleRouterReconcile returns a handler for
// POST /api/v1/routers/{id}/actions/reconcile.
func HandleRouterReconcile(st RouterStore, enqueue func(routerID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		router, ok := loadRouter(w, r, st)
		if !ok {
			return
		}
		enqueue(router.ID)
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

// WhitelistConfig carries the deployment-wide inputs of the allow-list
// generator; the per-router uamip arrives as a query parameter.
type WhitelistConfig struct {
	PortalURL  string
	DNSServers []string
	NTPServers []string
}

// HandleRouterWhitelist returns a handler for
// GET /api/v1/routers/{id}/whitelist?uamip=10.1.30.1.
func HandleRouterWhitelist(st RouterStore, cfg WhitelistConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := loadRouter(w, r, st); !ok {
			return
		}
		wl, err := portal.BuildWhitelist(portal.WhitelistInput{
			PortalURL:  cfg.PortalURL,
			DNSServers: cfg.DNSServers,
			NTPServers: cfg.NTPServers,
			UAMIP:      r.URL.Query().Get("uamip"),
		})
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, wl)
	}
}

func loadRouter(w http.ResponseWriter, r *http.Request, st RouterStore) (*model.Router, bool) {
	id := r.PathValue("id")
	router, err := st.GetRouter(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown router")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return nil, false
	}
	return router, true
}
