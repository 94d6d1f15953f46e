package entitlements

import (
	"context"
	"time"

	"github.com/magictales/storyforge/app/models"
)

// StoryCounter counts stories created for a user since an instant.
type StoryCounter interface {
	CountByUserIDSince(userID uint, since time.Time) (int64, error)
}

// PlanSource resolves a plan id to the plan record. Satisfied by both the
// plan repository and the plan catalog.
type PlanSource interface {
	PlanByID(ctx context.Context, id uint) (*models.Plan, error)
}

// Ledger answers "may this user start another story right now".
type Ledger struct {
	stories StoryCounter
	plans   PlanSource
	now     func() time.Time
}

// NewLedger creates an entitlement ledger over the given stores.
func NewLedger(stories StoryCounter, plans PlanSource) *Ledger {
	return &Ledger{stories: stories, plans: plans, now: time.Now}
}

// CheckAndReserve evaluates the user's quota for the current billing window.
// Despite the name there is no counter decrement; the story row created
// afterwards is what consumes the quota.
func (l *Ledger) CheckAndReserve(ctx context.Context, user *models.User) (Decision, error) {
	now := l.now()
	used, err := l.stories.CountByUserIDSince(user.ID, WindowStart(now))
	if err != nil {
		return Decision{}, err
	}

	var plan *models.Plan
	if !user.TryMode {
		plan, err = l.plans.PlanByID(ctx, user.PlanID)
		if err != nil {
			return denied(ReasonPlanNotFound, 0, int(used)), nil
		}
	}

	return CheckStoryQuota(user, plan, int(used)), nil
}
