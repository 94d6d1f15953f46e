package storyflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/internal/pkg/entitlements"
)

type fakePlanSource struct {
	plan *models.Plan
}

func (f fakePlanSource) PlanByID(ctx context.Context, id uint) (*models.Plan, error) {
	return f.plan, nil
}

func newOrchestrator(h *harness) *Orchestrator {
	return NewOrchestrator(h.machine, h.stories, h.logbook)
}

func decodeDetails(t *testing.T, entry models.ConversationEntry) map[string]interface{} {
	t.Helper()
	details := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(entry.Details), &details))
	return details
}

func TestOrchestrator_StartLogsCommandAndResult(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	orch := newOrchestrator(h)

	result, err := orch.HandleRequest(context.Background(), testUser, Command{
		Name: CommandStart, ProfileID: 10, Title: "Night Sky", Features: "stars, owls", Message: "a bedtime story",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Story)
	assert.Equal(t, PhaseInProgress, result.State.Phase)

	entries := h.logbook.bySession(result.Story.SessionID)
	require.Len(t, entries, 2)

	inbound := entries[0]
	assert.Equal(t, models.OriginUser, inbound.Origin)
	assert.Equal(t, models.TypeCommand, inbound.Type)
	assert.Equal(t, CommandStart, inbound.Command)
	assert.Contains(t, inbound.Details, "bedtime")

	outcome := entries[1]
	assert.Equal(t, models.OriginAI, outcome.Origin)
	assert.Equal(t, "start_result", outcome.Command)
	details := decodeDetails(t, outcome)
	assert.Equal(t, "ok", details["status"])
	assert.Equal(t, result.Story.SessionID, details["session_id"])
}

func TestOrchestrator_DeniedStartLogsReason(t *testing.T) {
	h := newHarness(threeStepConfig(), denyWith{entitlements.ReasonQuotaExceeded})
	orch := newOrchestrator(h)

	_, err := orch.HandleRequest(context.Background(), testUser, Command{Name: CommandStart, ProfileID: 10})
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// the denial is still auditable: one inbound entry, one error outcome
	require.Len(t, h.logbook.entries, 2)
	details := decodeDetails(t, h.logbook.entries[1])
	assert.Equal(t, "error", details["status"])
	assert.Equal(t, "quota_exceeded", details["reason"])
}

func TestOrchestrator_AdvanceReturnsFreshStory(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	orch := newOrchestrator(h)
	ctx := context.Background()

	started, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandStart, ProfileID: 10, Title: "Tale"})
	require.NoError(t, err)

	result, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandAdvance, StoryID: started.Story.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.State.Step)
	assert.Equal(t, 1, result.Story.LastSuccessfulStep)
	assert.NotEmpty(t, result.Content)
}

func TestOrchestrator_RestartOutcomeCarriesNewSession(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	orch := newOrchestrator(h)
	ctx := context.Background()

	started, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandStart, ProfileID: 10})
	require.NoError(t, err)
	oldSession := started.Story.SessionID

	result, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandRestart, StoryID: started.Story.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Story.LastSuccessfulStep)
	assert.NotEqual(t, oldSession, result.Story.SessionID)

	// the restart command is logged against the session it was issued under
	oldEntries := h.logbook.bySession(oldSession)
	var sawRestart bool
	for _, e := range oldEntries {
		if e.Command == CommandRestart {
			sawRestart = true
		}
		if e.Command == CommandRestart+"_result" {
			details := decodeDetails(t, e)
			assert.Equal(t, result.Story.SessionID, details["session_id"])
		}
	}
	assert.True(t, sawRestart)
}

func TestOrchestrator_UnknownCommand(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	orch := newOrchestrator(h)

	_, err := orch.HandleRequest(context.Background(), testUser, Command{Name: "publish"})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Empty(t, h.logbook.entries, "unresolvable commands must not pollute any session")
}

// Free plan, three stories per month: the third story completes, the fourth
// start is denied.
func TestOrchestrator_FreePlanQuotaLifecycle(t *testing.T) {
	h := newHarness(threeStepConfig(), nil)
	ledger := entitlements.NewLedger(h.stories, fakePlanSource{plan: &models.Plan{ID: 1, Name: "Free", StoriesPerMonth: 3}})
	h.machine = NewMachine(threeStepConfig(), h.stories, fakeProfileStore{}, ledger, h.logbook, h.gen, h.locks, h.failures)
	orch := newOrchestrator(h)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		started, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandStart, ProfileID: 10})
		require.NoError(t, err, "story %d fits the quota", i+1)

		var state State
		for s := 0; s < 3; s++ {
			result, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandAdvance, StoryID: started.Story.ID})
			require.NoError(t, err)
			state = result.State
		}
		assert.Equal(t, PhaseCompleted, state.Phase)
	}

	_, err := orch.HandleRequest(ctx, testUser, Command{Name: CommandStart, ProfileID: 10})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}
