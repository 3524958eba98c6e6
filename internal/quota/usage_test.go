package quota

import (
	"context"
	"testing"
	"time"

	"github.com/spotfi/spotfi/internal/model"
)

type stubUsageStore struct {
	plans    []model.UserPlan
	counters map[string]int64
	open     int64
}

func (s *stubUsageStore) ActiveUserPlans(_ context.Context, _ string) ([]model.UserPlan, error) {
	return s.plans, nil
}

func (s *stubUsageStore) UsageCounter(_ context.Context, _, periodKey string) (int64, error) {
	return s.counters[periodKey], nil
}

func (s *stubUsageStore) OpenSessionBytes(_ context.Context, _ string) (int64, error) {
	return s.open, nil
}

func TestUserUsage_CountsClosedPlusOpenAgainstQuota(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	st := &stubUsageStore{
		plans: []model.UserPlan{
			{QuotaType: model.QuotaMonthly, DataQuota: quotaPtr(100)},
		},
		counters: map[string]int64{"2026-08": 60},
		open:     50,
	}

	u, err := UserUsage(context.Background(), st, "alice", now)
	if err != nil {
		t.Fatalf("UserUsage: %v", err)
	}
	if u.UsedBytes != 110 || u.QuotaBytes != 100 {
		t.Fatalf("usage = %+v", u)
	}
	if !u.Exhausted || u.RemainingBytes != 0 {
		t.Fatalf("usage = %+v, want exhausted with zero remaining", u)
	}
}

func TestUserUsage_UnlimitedPlanNeverExhausts(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	st := &stubUsageStore{
		plans: []model.UserPlan{
			{QuotaType: model.QuotaMonthly, DataQuota: nil},
		},
		counters: map[string]int64{"2026-08": 1 << 40},
	}

	u, err := UserUsage(context.Background(), st, "alice", now)
	if err != nil {
		t.Fatalf("UserUsage: %v", err)
	}
	if !u.Unlimited || u.Exhausted {
		t.Fatalf("usage = %+v", u)
	}
}

func TestUserUsage_NoPlansDefaultsToMonthlyBucketAndZeroQuota(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	st := &stubUsageStore{
		counters: map[string]int64{"2026-08": 5},
	}

	u, err := UserUsage(context.Background(), st, "alice", now)
	if err != nil {
		t.Fatalf("UserUsage: %v", err)
	}
	if u.UsedBytes != 5 || u.QuotaBytes != 0 || !u.Exhausted {
		t.Fatalf("usage = %+v, want any usage to exhaust a zero quota", u)
	}
}

func TestUserUsage_MixedQuotaTypesTakeLargestBucket(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	st := &stubUsageStore{
		plans: []model.UserPlan{
			{QuotaType: model.QuotaMonthly, DataQuota: quotaPtr(1000)},
			{QuotaType: model.QuotaDaily, DataQuota: quotaPtr(100)},
		},
		counters: map[string]int64{
			"2026-08":    700,
			"2026-08-24": 90,
		},
	}

	u, err := UserUsage(context.Background(), st, "alice", now)
	if err != nil {
		t.Fatalf("UserUsage: %v", err)
	}
	if u.UsedBytes != 700 {
		t.Fatalf("used = %d, want the larger bucket (700)", u.UsedBytes)
	}
	if u.QuotaBytes != 1100 {
		t.Fatalf("quota = %d, want summed 1100", u.QuotaBytes)
	}
}
