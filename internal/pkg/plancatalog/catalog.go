package plancatalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/magictales/storyforge/app/models"
)

// DefaultMaxAge is how long the loaded plan set is trusted before the next
// access triggers a reload. Plans are seeded at deployment and rarely change.
const DefaultMaxAge = 30 * time.Minute

// PlanStore is the persistence surface the catalog loads from.
type PlanStore interface {
	GetAll() ([]models.Plan, error)
}

// Catalog keeps the seeded plans in process-wide read-mostly memory so the
// hot path never queries the store for static data. Reload is explicit;
// staleness past maxAge also triggers one on the next access.
type Catalog struct {
	store  PlanStore
	maxAge time.Duration

	mu       sync.RWMutex
	byID     map[uint]models.Plan
	ordered  []models.Plan
	loadedAt time.Time
}

// New creates a catalog over the given store. The catalog is empty until the
// first Reload or access.
func New(store PlanStore) *Catalog {
	return &Catalog{
		store:  store,
		maxAge: DefaultMaxAge,
		byID:   map[uint]models.Plan{},
	}
}

// Reload replaces the in-memory plan set from the store.
func (c *Catalog) Reload(ctx context.Context) error {
	plans, err := c.store.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load plan catalog: %w", err)
	}

	byID := make(map[uint]models.Plan, len(plans))
	for _, p := range plans {
		byID[p.ID] = p
	}

	c.mu.Lock()
	c.byID = byID
	c.ordered = plans
	c.loadedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func (c *Catalog) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := !c.loadedAt.IsZero() && time.Since(c.loadedAt) < c.maxAge
	c.mu.RUnlock()
	if fresh {
		return nil
	}
	return c.Reload(ctx)
}

// PlanByID returns the plan with the given id, or gorm-style not-found via a
// plain error. Satisfies entitlements.PlanSource.
func (c *Catalog) PlanByID(ctx context.Context, id uint) (*models.Plan, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.byID[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, fmt.Errorf("plan %d not found", id)
}

// All returns the plans in seed order.
func (c *Catalog) All(ctx context.Context) ([]models.Plan, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Plan, len(c.ordered))
	copy(out, c.ordered)
	return out, nil
}
