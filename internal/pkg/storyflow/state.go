package storyflow

import (
	"context"

	"github.com/magictales/storyforge/app/models"
)

// Phase is the explicit lifecycle state reified from the persisted step
// counter, so illegal transitions are checked in one place.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseFailed     Phase = "failed"
	PhaseCompleted  Phase = "completed"
)

// State is a story's current phase plus the last successfully committed step.
type State struct {
	Phase Phase `json:"phase"`
	Step  int   `json:"step"`
}

// StateOf derives a story's state. The persisted LastSuccessfulStep is
// authoritative; the failure marker only refines InProgress into Failed.
func (m *Machine) StateOf(ctx context.Context, story *models.Story) State {
	if story == nil {
		return State{Phase: PhaseNotStarted}
	}
	if story.IsCompleted(m.cfg.TotalSteps()) {
		return State{Phase: PhaseCompleted, Step: story.LastSuccessfulStep}
	}
	if step, failed := m.failures.FailedStep(ctx, story.ID); failed {
		return State{Phase: PhaseFailed, Step: step}
	}
	return State{Phase: PhaseInProgress, Step: story.LastSuccessfulStep}
}
