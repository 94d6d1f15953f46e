package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictales/storyforge/app/models"
)

func TestCheckStoryQuota(t *testing.T) {
	free := &models.Plan{ID: 1, Name: "Free", StoriesPerMonth: 3}
	pro := &models.Plan{ID: 4, Name: "Pro", StoriesPerMonth: models.UnlimitedStories}

	tests := []struct {
		name        string
		user        *models.User
		plan        *models.Plan
		used        int
		wantAllowed bool
		wantReason  Reason
	}{
		{name: "free plan under quota", user: &models.User{PlanID: 1}, plan: free, used: 2, wantAllowed: true},
		{name: "free plan at quota", user: &models.User{PlanID: 1}, plan: free, used: 3, wantAllowed: false, wantReason: ReasonQuotaExceeded},
		{name: "free plan over quota", user: &models.User{PlanID: 1}, plan: free, used: 5, wantAllowed: false, wantReason: ReasonQuotaExceeded},
		{name: "unlimited plan never denied", user: &models.User{PlanID: 4}, plan: pro, used: 10000, wantAllowed: true},
		{name: "missing plan", user: &models.User{PlanID: 9}, plan: nil, used: 0, wantAllowed: false, wantReason: ReasonPlanNotFound},
		{name: "try mode first story", user: &models.User{TryMode: true, PlanID: 4}, plan: pro, used: 0, wantAllowed: true},
		{name: "try mode capped regardless of plan", user: &models.User{TryMode: true, PlanID: 4}, plan: pro, used: 1, wantAllowed: false, wantReason: ReasonTrialRestricted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckStoryQuota(tt.user, tt.plan, tt.used)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestCheckStoryQuota_Remaining(t *testing.T) {
	free := &models.Plan{StoriesPerMonth: 3}

	d := CheckStoryQuota(&models.User{}, free, 1)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, 3, d.Limit)
	assert.Equal(t, 1, d.Used)
}

func TestWindowStart(t *testing.T) {
	now := time.Date(2026, time.March, 17, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), WindowStart(now))

	// Non-UTC inputs normalize to the UTC month
	loc := time.FixedZone("UTC+10", 10*3600)
	early := time.Date(2026, time.April, 1, 5, 0, 0, 0, loc) // still March in UTC
	assert.Equal(t, time.March, WindowStart(early).Month())
}

type fakeStoryCounter struct {
	count int64
	since time.Time
}

func (f *fakeStoryCounter) CountByUserIDSince(userID uint, since time.Time) (int64, error) {
	f.since = since
	return f.count, nil
}

type fakePlanSource struct {
	plans map[uint]*models.Plan
}

func (f *fakePlanSource) PlanByID(ctx context.Context, id uint) (*models.Plan, error) {
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return nil, assert.AnError
}

func TestLedger_CheckAndReserve(t *testing.T) {
	counter := &fakeStoryCounter{count: 3}
	plans := &fakePlanSource{plans: map[uint]*models.Plan{
		1: {ID: 1, StoriesPerMonth: 3},
	}}

	ledger := NewLedger(counter, plans)
	ledger.now = func() time.Time { return time.Date(2026, time.May, 20, 8, 0, 0, 0, time.UTC) }

	d, err := ledger.CheckAndReserve(context.Background(), &models.User{ID: 5, PlanID: 1})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC), counter.since)

	// Unknown plan id resolves to plan_not_found, not an error
	d, err = ledger.CheckAndReserve(context.Background(), &models.User{ID: 5, PlanID: 42})
	require.NoError(t, err)
	assert.Equal(t, ReasonPlanNotFound, d.Reason)

	// Try mode never consults the plan source
	counter.count = 0
	d, err = ledger.CheckAndReserve(context.Background(), &models.User{ID: 6, PlanID: 42, TryMode: true})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
