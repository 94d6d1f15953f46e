package plancatalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictales/storyforge/app/models"
)

type fakePlanStore struct {
	plans []models.Plan
	loads int
}

func (f *fakePlanStore) GetAll() ([]models.Plan, error) {
	f.loads++
	return f.plans, nil
}

func TestCatalog_LoadsOnceWhileFresh(t *testing.T) {
	store := &fakePlanStore{plans: []models.Plan{
		{ID: 1, Name: "Free", StoriesPerMonth: 3},
		{ID: 2, Name: "Basic", StoriesPerMonth: 5},
	}}
	catalog := New(store)

	p, err := catalog.PlanByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Free", p.Name)

	_, err = catalog.PlanByID(context.Background(), 2)
	require.NoError(t, err)

	all, err := catalog.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.Equal(t, 1, store.loads)
}

func TestCatalog_UnknownPlan(t *testing.T) {
	store := &fakePlanStore{plans: []models.Plan{{ID: 1, Name: "Free"}}}
	catalog := New(store)

	_, err := catalog.PlanByID(context.Background(), 99)
	assert.Error(t, err)
}

func TestCatalog_ExplicitReloadPicksUpChanges(t *testing.T) {
	store := &fakePlanStore{plans: []models.Plan{{ID: 1, Name: "Free", StoriesPerMonth: 3}}}
	catalog := New(store)
	require.NoError(t, catalog.Reload(context.Background()))

	store.plans = []models.Plan{{ID: 1, Name: "Free", StoriesPerMonth: 5}}
	require.NoError(t, catalog.Reload(context.Background()))

	p, err := catalog.PlanByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.StoriesPerMonth)
}
