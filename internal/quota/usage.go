package quota

import (
	"context"
	"time"

	"github.com/spotfi/spotfi/internal/model"
)

// UsageStore is the read surface for usage queries.
type UsageStore interface {
	ActiveUserPlans(ctx context.Context, username string) ([]model.UserPlan, error)
	UsageCounter(ctx context.Context, username, periodKey string) (int64, error)
	OpenSessionBytes(ctx context.Context, username string) (int64, error)
}

// Usage is a user's current-period standing against the aggregated quota.
type Usage struct {
	UsedBytes      int64 `json:"used_bytes"`
	QuotaBytes     int64 `json:"quota_bytes"`
	Unlimited      bool  `json:"unlimited"`
	RemainingBytes int64 `json:"remaining_bytes"`
	Exhausted      bool  `json:"exhausted"`
}

// UserUsage reads the materialized counter for each quota type the user's
// active assignments carry (MONTHLY when they have none, matching the usage
// trigger), takes the largest, and adds still-open session bytes.
func UserUsage(ctx context.Context, st UsageStore, username string, now time.Time) (Usage, error) {
	plans, err := st.ActiveUserPlans(ctx, username)
	if err != nil {
		return Usage{}, err
	}

	keys := map[string]struct{}{}
	for _, up := range plans {
		keys[PeriodKey(up.QuotaType, now)] = struct{}{}
	}
	if len(keys) == 0 {
		keys[PeriodKey(model.QuotaMonthly, now)] = struct{}{}
	}

	var closed int64
	for key := range keys {
		total, err := st.UsageCounter(ctx, username, key)
		if err != nil {
			return Usage{}, err
		}
		if total > closed {
			closed = total
		}
	}

	open, err := st.OpenSessionBytes(ctx, username)
	if err != nil {
		return Usage{}, err
	}

	u := Usage{UsedBytes: closed + open}
	u.QuotaBytes, u.Unlimited = AggregateQuota(plans)
	if !u.Unlimited {
		u.RemainingBytes = u.QuotaBytes - u.UsedBytes
		if u.RemainingBytes < 0 {
			u.RemainingBytes = 0
		}
		u.Exhausted = u.UsedBytes > u.QuotaBytes
	}
	return u, nil
}
