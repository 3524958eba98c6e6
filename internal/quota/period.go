// Package quota implements the session engine: usage aggregation, disconnect
// delivery, session reconciliation and hygiene, and plan expiry.
package quota

import (
	"fmt"
	"time"

	"github.com/spotfi/spotfi/internal/model"
)

// PeriodKey names the accounting bucket a moment falls into for a quota type.
// Must stay in step with the spotfi_period_key SQL function the usage
// triggers use, including the ISO week-year for WEEKLY.
func PeriodKey(qt model.QuotaType, at time.Time) string {
	at = at.UTC()
	switch qt {
	case model.QuotaDaily:
		return at.Format("2006-01-02")
	case model.QuotaWeekly:
		year, week := at.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case model.QuotaOneTime:
		return "ALL"
	default:
		return at.Format("2006-01")
	}
}

// AggregateQuota folds the user's active assignments into one governing
// quota. Any unlimited assignment suppresses the limit entirely; a user with
// no assignments gets quota 0, so any usage at all is over.
func AggregateQuota(plans []model.UserPlan) (quota int64, unlimited bool) {
	for _, up := range plans {
		if up.DataQuota == nil {
			return 0, true
		}
		quota += *up.DataQuota
	}
	return quota, false
}
