package entitlements

import (
	"time"

	"github.com/magictales/storyforge/app/models"
)

// TryModeStoriesPerMonth caps trial accounts regardless of their plan.
const TryModeStoriesPerMonth = 1

// Reason is the machine-readable denial code surfaced to the caller.
type Reason string

const (
	ReasonQuotaExceeded   Reason = "quota_exceeded"
	ReasonTrialRestricted Reason = "trial_restricted"
	ReasonPlanNotFound    Reason = "plan_not_found"
)

// Decision is the outcome of an entitlement check. It is a pure read-check:
// quota is never reserved up front, so a request that dies before creating
// its story costs nothing.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    Reason `json:"reason,omitempty"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}

// Allowed builds a positive decision with the remaining budget filled in.
func allowed(limit, used int) Decision {
	remaining := limit - used
	if limit >= models.UnlimitedStories {
		remaining = models.UnlimitedStories
	}
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: limit, Used: used, Remaining: remaining}
}

func denied(reason Reason, limit, used int) Decision {
	return Decision{Allowed: false, Reason: reason, Limit: limit, Used: used}
}

// CheckStoryQuota decides whether a user may start another story this month.
// usedThisMonth is the number of stories created across the user's profiles
// inside the current billing window.
func CheckStoryQuota(user *models.User, plan *models.Plan, usedThisMonth int) Decision {
	if user.TryMode {
		if usedThisMonth >= TryModeStoriesPerMonth {
			return denied(ReasonTrialRestricted, TryModeStoriesPerMonth, usedThisMonth)
		}
		return allowed(TryModeStoriesPerMonth, usedThisMonth)
	}

	if plan == nil {
		return denied(ReasonPlanNotFound, 0, usedThisMonth)
	}

	if plan.IsUnlimited() {
		return allowed(plan.StoriesPerMonth, usedThisMonth)
	}

	if usedThisMonth >= plan.StoriesPerMonth {
		return denied(ReasonQuotaExceeded, plan.StoriesPerMonth, usedThisMonth)
	}

	return allowed(plan.StoriesPerMonth, usedThisMonth)
}

// WindowStart returns the start of the billing window containing now. The
// window is the UTC calendar month.
func WindowStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
