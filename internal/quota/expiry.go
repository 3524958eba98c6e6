package quota

import (
	"context"
	"log"
	"time"

	"github.com/spotfi/spotfi/internal/model"
	"github.com/spotfi/spotfi/internal/store"
)

// ExpiryStore is the plan and RADIUS surface the expiry job writes through.
type ExpiryStore interface {
	ExpireDuePlans(ctx context.Context, now time.Time) ([]string, error)
	ActiveUserPlans(ctx context.Context, username string) ([]model.UserPlan, error)
	ActivePlanLimits(ctx context.Context, username string) (store.ReplyLimits, error)
	EnqueueDisconnect(ctx context.Context, username string, reason model.DisconnectReason) (int64, error)
	InsertRejectRule(ctx context.Context, username string) error
	SyncReplyAttributes(ctx context.Context, username string, limits store.ReplyLimits) error
}

// PlanExpiry marks overdue assignments EXPIRED. Users left with no active
// assignment are disconnected and blocked; users still covered get their
// radreply rows re-synced to the remaining aggregated limits.
type PlanExpiry struct {
	st  ExpiryStore
	now func() time.Time
}

func NewPlanExpiry(st ExpiryStore) *PlanExpiry {
	return &PlanExpiry{st: st, now: time.Now}
}

// Run executes one pass. Scheduled hourly.
func (e *PlanExpiry) Run(ctx context.Context) error {
	users, err := e.st.ExpireDuePlans(ctx, e.now())
	if err != nil {
		return err
	}
	for _, username := range users {
		if err := e.handleUser(ctx, username); err != nil {
			log.Printf("[expiry] %s: %v", username, err)
		}
	}
	if len(users) > 0 {
		log.Printf("[expiry] expired plans for %d users", len(users))
	}
	return nil
}

func (e *PlanExpiry) handleUser(ctx context.Context, username string) error {
	remaining, err := e.st.ActiveUserPlans(ctx, username)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := e.st.InsertRejectRule(ctx, username); err != nil {
			return err
		}
		_, err := e.st.EnqueueDisconnect(ctx, username, model.ReasonPlanExpired)
		return err
	}

	limits, err := e.st.ActivePlanLimits(ctx, username)
	if err != nil {
		return err
	}
	return e.st.SyncReplyAttributes(ctx, username, limits)
}
