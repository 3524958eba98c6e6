package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/quota"
	"github.com/spotfi/spotfi/internal/store"
)

// UserStore combines the user reads and service-control writes behind the
// admin user endpoints.
type UserStore interface {
	quota.UsageStore
	GetUser(ctx context.Context, username string) (*model.User, error)
	EnqueueDisconnect(ctx context.Context, username string, reason model.DisconnectReason) (int64, error)
	ClearRejectRule(ctx context.Context, username string) error
	ActivePlanLimits(ctx context.Context, username string) (store.ReplyLimits, error)
	SyncReplyAttributes(ctx context.Context, username string, limits store.ReplyLimits) error
}

// HandleUserUsage returns a handler for GET /api/v1/users/{username}/usage.
func HandleUserUsage(st UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := loadUser(w, r, st)
		if !ok {
			return
		}
		usage, err := quota.UserUsage(r.Context(), st, user.Username, time.Now())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, usage)
	}
}

// HandleUserDisconnect returns a handler for
// POST /api/v1/users/{username}/actions/disconnect. The work happens on the
// durable queue so a broker hiccup cannot lose the request.
func HandleUserDisconnect(st UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := loadUser(w, r, st)
		if !ok {
			return
		}
		id, err := st.EnqueueDisconnect(r.Context(), user.Username, model.ReasonAdminRequest)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "job_id": id})
	}
}

// HandleUserRestore returns a handler for
// POST /api/v1/users/{username}/actions/restore. It lifts the Auth-Type
// Reject block and rewrites radreply from the active assignments.
func HandleUserRestore(st UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := loadUser(w, r, st)
		if !ok {
			return
		}
		if err := st.ClearRejectRule(r.Context(), user.Username); err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		limits, err := st.ActivePlanLimits(r.Context(), user.Username)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		if err := st.SyncReplyAttributes(r.Context(), user.Username, limits); err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "restored"})
	}
}

func loadUser(w http.ResponseWriter, r *http.Request, st UserStore) (*model.User, bool) {
	username := r.PathValue("username")
	user, err := st.GetUser(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown user")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return nil, false
	}
	return user, true
}
