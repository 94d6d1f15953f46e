package storyflow

import "errors"

// The taxonomy callers dispatch on. Entitlement and transition errors are
// terminal policy decisions; generation failures are retryable via resume;
// storage conflicts are transient-busy.
var (
	ErrQuotaExceeded          = errors.New("monthly story quota exceeded")
	ErrTrialRestricted        = errors.New("trial accounts are restricted to the trial quota")
	ErrPlanNotFound           = errors.New("no active plan found for user")
	ErrInvalidStateTransition = errors.New("operation not allowed in the story's current state")
	ErrGenerationFailure      = errors.New("generation capability failed")
	ErrStorageConflict        = errors.New("story is busy, try again")
)

// ReasonForError maps a taxonomy error to the machine-readable reason code
// recorded in the conversation log and returned to clients.
func ReasonForError(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrTrialRestricted):
		return "trial_restricted"
	case errors.Is(err, ErrPlanNotFound):
		return "plan_not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrGenerationFailure):
		return "generation_failure"
	case errors.Is(err, ErrStorageConflict):
		return "storage_conflict"
	default:
		return "internal_error"
	}
}
