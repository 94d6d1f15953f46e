package storyflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/internal/pkg/assistant"
	"github.com/magictales/storyforge/internal/pkg/entitlements"
)

// --- fakes ---

type fakeStoryStore struct {
	mu      sync.Mutex
	stories map[uint]*models.Story
	nextID  uint
}

func newFakeStoryStore() *fakeStoryStore {
	return &fakeStoryStore{stories: map[uint]*models.Story{}}
}

func (f *fakeStoryStore) Create(story *models.Story) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	story.ID = f.nextID
	story.CreatedAt = time.Now()
	cp := *story
	f.stories[story.ID] = &cp
	return nil
}

func (f *fakeStoryStore) GetByID(id uint) (*models.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %d not found", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStoryStore) GetOwned(id, userID uint) (*models.Story, error) {
	return f.GetByID(id)
}

func (f *fakeStoryStore) UpdateSynopsis(id uint, synopsis string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stories[id]
	if !ok {
		return fmt.Errorf("story %d not found", id)
	}
	s.Synopsis = synopsis
	return nil
}

func (f *fakeStoryStore) setReadCount(id uint, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stories[id].ReadCount = n
}

func (f *fakeStoryStore) CommitStep(id uint, fromStep int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stories[id]
	if !ok || s.LastSuccessfulStep != fromStep {
		return 0, nil
	}
	s.LastSuccessfulStep = fromStep + 1
	return 1, nil
}

func (f *fakeStoryStore) ResetProgress(id uint, newSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stories[id]
	if !ok {
		return fmt.Errorf("story %d not found", id)
	}
	s.LastSuccessfulStep = 0
	s.SessionID = newSessionID
	return nil
}

func (f *fakeStoryStore) CountByUserIDSince(userID uint, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, s := range f.stories {
		if !s.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type fakeProfileStore struct{}

func (fakeProfileStore) GetOwned(id, userID uint) (*models.Profile, error) {
	return &models.Profile{ID: id, UserID: userID, Details: "a brave child"}, nil
}

type allowAll struct{}

func (allowAll) CheckAndReserve(ctx context.Context, user *models.User) (entitlements.Decision, error) {
	return entitlements.Decision{Allowed: true}, nil
}

type denyWith struct{ reason entitlements.Reason }

func (d denyWith) CheckAndReserve(ctx context.Context, user *models.User) (entitlements.Decision, error) {
	return entitlements.Decision{Allowed: false, Reason: d.reason}, nil
}

type fakeLogbook struct {
	mu      sync.Mutex
	entries []models.ConversationEntry
	nextID  uint
}

func (f *fakeLogbook) append(entry models.ConversationEntry) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	entry.CreatedAt = time.Now()
	f.entries = append(f.entries, entry)
	return entry.ID, nil
}

func (f *fakeLogbook) AppendChat(ctx context.Context, userID uint, sessionID string, origin models.EntryOrigin, message string) (uint, error) {
	details, _ := json.Marshal(map[string]string{"message": message})
	return f.append(models.ConversationEntry{
		UserID: userID, SessionID: sessionID, Origin: origin, Type: models.TypeChat, Details: string(details),
	})
}

func (f *fakeLogbook) AppendCommand(ctx context.Context, userID uint, sessionID string, origin models.EntryOrigin, command string, details map[string]interface{}) (uint, error) {
	raw, _ := json.Marshal(details)
	return f.append(models.ConversationEntry{
		UserID: userID, SessionID: sessionID, Origin: origin, Type: models.TypeCommand, Command: command, Details: string(raw),
	})
}

func (f *fakeLogbook) ReadSession(ctx context.Context, sessionID string) ([]models.ConversationEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ConversationEntry
	for _, e := range f.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLogbook) bySession(sessionID string) []models.ConversationEntry {
	out, _ := f.ReadSession(context.Background(), sessionID)
	return out
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	failOn  map[int]error // call number (1-based) -> error
	content func(prompt assistant.PromptContext) string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt assistant.PromptContext) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if err, ok := f.failOn[call]; ok {
		return "", err
	}
	if f.content != nil {
		return f.content(prompt), nil
	}
	return "generated " + prompt.StepName, nil
}

type memLocker struct {
	mu    sync.Mutex
	held  map[uint]bool
	fails map[uint]int
}

func newMemLocker() *memLocker {
	return &memLocker{held: map[uint]bool{}, fails: map[uint]int{}}
}

func (l *memLocker) Acquire(ctx context.Context, storyID uint, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[storyID] {
		l.fails[storyID]++
		return false, nil
	}
	l.held[storyID] = true
	return true, nil
}

func (l *memLocker) Release(ctx context.Context, storyID uint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, storyID)
	return nil
}

type memFailures struct {
	mu    sync.Mutex
	steps map[uint]int
}

func newMemFailures() *memFailures {
	return &memFailures{steps: map[uint]int{}}
}

func (f *memFailures) MarkFailed(ctx context.Context, storyID uint, step int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[storyID] = step
	return nil
}

func (f *memFailures) ClearFailed(ctx context.Context, storyID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.steps, storyID)
	return nil
}

func (f *memFailures) FailedStep(ctx context.Context, storyID uint) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step, ok := f.steps[storyID]
	return step, ok
}

type harness struct {
	machine  *Machine
	stories  *fakeStoryStore
	logbook  *fakeLogbook
	gen      *fakeGenerator
	locks    *memLocker
	failures *memFailures
}

func threeStepConfig() Config {
	return Config{
		Steps: []StepTemplate{
			{Name: "premise", Instruction: "premise"},
			{Name: "outline", Instruction: "outline"},
			{Name: "finale", Instruction: "finale"},
		},
		StepTimeout:     time.Second,
		ConflictRetries: 0,
		ConflictBackoff: time.Millisecond,
	}
}

func newHarness(cfg Config, quota QuotaChecker) *harness {
	h := &harness{
		stories:  newFakeStoryStore(),
		logbook:  &fakeLogbook{},
		gen:      &fakeGenerator{failOn: map[int]error{}},
		locks:    newMemLocker(),
		failures: newMemFailures(),
	}
	h.machine = NewMachine(cfg, h.stories, fakeProfileStore{}, quota, h.logbook, h.gen, h.locks, h.failures)
	return h
}

var testUser = &models.User{ID: 1, PlanID: 1}

// --- tests ---

func TestMachine_StartCreatesStoryAtStepZero(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})

	story, err := h.machine.Start(context.Background(), testUser, 10, "", "Dragon Tale", "dragons")
	require.NoError(t, err)
	assert.Equal(t, 0, story.LastSuccessfulStep)
	assert.NotEmpty(t, story.SessionID)

	state := h.machine.StateOf(context.Background(), story)
	assert.Equal(t, PhaseInProgress, state.Phase)
}

func TestMachine_StartDeniedByQuota(t *testing.T) {
	for _, tt := range []struct {
		reason  entitlements.Reason
		wantErr error
	}{
		{entitlements.ReasonQuotaExceeded, ErrQuotaExceeded},
		{entitlements.ReasonTrialRestricted, ErrTrialRestricted},
		{entitlements.ReasonPlanNotFound, ErrPlanNotFound},
	} {
		h := newHarness(threeStepConfig(), denyWith{tt.reason})

		_, err := h.machine.Start(context.Background(), testUser, 10, "", "Denied", "")
		assert.ErrorIs(t, err, tt.wantErr)
		assert.Empty(t, h.stories.stories, "denied start must not create a story")
	}
}

func TestMachine_AdvanceToCompletion(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, err := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	require.NoError(t, err)

	prev := 0
	for i := 0; i < 3; i++ {
		content, state, err := h.machine.Advance(ctx, testUser, story.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, content)
		assert.Greater(t, state.Step, prev, "step must be strictly increasing")
		prev = state.Step
	}

	final, err := h.stories.GetByID(story.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, final.LastSuccessfulStep)
	assert.Equal(t, PhaseCompleted, h.machine.StateOf(ctx, final).Phase)

	// advancing past completion is an invalid transition
	_, _, err = h.machine.Advance(ctx, testUser, story.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestMachine_GenerationFailureKeepsStep(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, err := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	require.NoError(t, err)

	h.gen.failOn[1] = errors.New("upstream timeout")

	_, state, err := h.machine.Advance(ctx, testUser, story.ID)
	assert.ErrorIs(t, err, ErrGenerationFailure)
	assert.Equal(t, PhaseFailed, state.Phase)
	assert.Equal(t, 0, state.Step)

	stored, err := h.stories.GetByID(story.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.LastSuccessfulStep, "failed step must not commit")

	// failure left an audit entry
	var foundFailure bool
	for _, e := range h.logbook.bySession(story.SessionID) {
		if e.Command == "advance_failed" {
			foundFailure = true
			assert.Equal(t, models.OriginAI, e.Origin)
			assert.Equal(t, models.TypeCommand, e.Type)
		}
	}
	assert.True(t, foundFailure)
}

func TestMachine_ResumeAfterFailure(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, err := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	require.NoError(t, err)

	// advance twice, then fail on the third step
	_, _, err = h.machine.Advance(ctx, testUser, story.ID)
	require.NoError(t, err)
	_, _, err = h.machine.Advance(ctx, testUser, story.ID)
	require.NoError(t, err)

	h.gen.failOn[3] = errors.New("rate limited")
	_, _, err = h.machine.Advance(ctx, testUser, story.ID)
	require.ErrorIs(t, err, ErrGenerationFailure)

	stored, _ := h.stories.GetByID(story.ID)
	require.Equal(t, 2, stored.LastSuccessfulStep)
	assert.Equal(t, PhaseFailed, h.machine.StateOf(ctx, stored).Phase)

	// resume re-runs step 2 exactly once: 2 -> 3, not 4, not stuck at 2
	_, state, err := h.machine.Resume(ctx, testUser, story.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Step)
	assert.Equal(t, PhaseCompleted, state.Phase)

	stored, _ = h.stories.GetByID(story.ID)
	assert.Equal(t, 3, stored.LastSuccessfulStep)
}

func TestMachine_ResumeCompletedIsInvalid(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	for i := 0; i < 3; i++ {
		_, _, err := h.machine.Advance(ctx, testUser, story.ID)
		require.NoError(t, err)
	}

	_, _, err := h.machine.Resume(ctx, testUser, story.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestMachine_RestartResetsProgressUnderNewSession(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	oldSession := story.SessionID
	_, _, err := h.machine.Advance(ctx, testUser, story.ID)
	require.NoError(t, err)

	oldEntries := len(h.logbook.bySession(oldSession))
	require.Greater(t, oldEntries, 0)

	restarted, err := h.machine.Restart(ctx, testUser, story.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, restarted.LastSuccessfulStep)
	assert.NotEqual(t, oldSession, restarted.SessionID)

	// old session entries stay readable
	assert.Len(t, h.logbook.bySession(oldSession), oldEntries)
}

func TestMachine_RestartRejectedWhileAdvanceInFlight(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	origSession := story.SessionID

	// park the generator mid-step so the restart races a live advance
	parked := make(chan struct{})
	release := make(chan struct{})
	h.gen.content = func(prompt assistant.PromptContext) string {
		close(parked)
		<-release
		return "slow content"
	}

	advanceDone := make(chan error, 1)
	go func() {
		_, _, err := h.machine.Advance(ctx, testUser, story.ID)
		advanceDone <- err
	}()
	<-parked

	_, err := h.machine.Restart(ctx, testUser, story.ID)
	assert.ErrorIs(t, err, ErrStorageConflict, "restart must not interleave with a running step")

	close(release)
	require.NoError(t, <-advanceDone)

	// the rejected restart left no trace: same session, step committed once
	stored, _ := h.stories.GetByID(story.ID)
	assert.Equal(t, origSession, stored.SessionID)
	assert.Equal(t, 1, stored.LastSuccessfulStep)
}

func TestMachine_AdvanceWritesSynopsisColumnOnly(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")

	// a counter flush lands on the row while the premise step generates
	h.gen.content = func(prompt assistant.PromptContext) string {
		h.stories.setReadCount(story.ID, 7)
		return "a premise"
	}

	_, _, err := h.machine.Advance(ctx, testUser, story.ID)
	require.NoError(t, err)

	stored, _ := h.stories.GetByID(story.ID)
	assert.Equal(t, "a premise", stored.Synopsis)
	assert.Equal(t, int64(7), stored.ReadCount, "synopsis write must not clobber concurrent column writes")
}

func TestMachine_ConcurrentAdvanceIsRejected(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")

	// simulate another in-flight advance holding the lock
	acquired, err := h.locks.Acquire(ctx, story.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, _, err = h.machine.Advance(ctx, testUser, story.ID)
	assert.ErrorIs(t, err, ErrStorageConflict)

	stored, _ := h.stories.GetByID(story.ID)
	assert.Equal(t, 0, stored.LastSuccessfulStep, "no double increment")
}

func TestMachine_CommitConflictSurfacesStorageConflict(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")

	// another writer moves the step while our generation runs
	h.gen.content = func(prompt assistant.PromptContext) string {
		_, _ = h.stories.CommitStep(story.ID, 0)
		return "late content"
	}

	_, _, err := h.machine.Advance(ctx, testUser, story.ID)
	assert.ErrorIs(t, err, ErrStorageConflict)

	stored, _ := h.stories.GetByID(story.ID)
	assert.Equal(t, 1, stored.LastSuccessfulStep, "exactly one commit for the step")
}

func TestMachine_PromptCarriesSessionHistory(t *testing.T) {
	h := newHarness(threeStepConfig(), allowAll{})
	ctx := context.Background()

	story, _ := h.machine.Start(ctx, testUser, 10, "", "Tale", "")
	_, err := h.logbook.AppendChat(ctx, testUser.ID, story.SessionID, models.OriginUser, "make it about pirates")
	require.NoError(t, err)

	var captured assistant.PromptContext
	h.gen.content = func(prompt assistant.PromptContext) string {
		captured = prompt
		return "aye"
	}

	_, _, err = h.machine.Advance(ctx, testUser, story.ID)
	require.NoError(t, err)
	assert.Equal(t, "premise", captured.StepName)
	require.Len(t, captured.History, 1)
	assert.Contains(t, captured.History[0], "pirates")
}
