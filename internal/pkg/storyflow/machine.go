package storyflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/internal/pkg/assistant"
	"github.com/magictales/storyforge/internal/pkg/entitlements"
)

// StoryStore is the slice of the story repository the machine needs.
type StoryStore interface {
	Create(story *models.Story) error
	GetByID(id uint) (*models.Story, error)
	UpdateSynopsis(id uint, synopsis string) error
	CommitStep(id uint, fromStep int) (int64, error)
	ResetProgress(id uint, newSessionID string) error
}

// ProfileStore resolves profile ownership before a story is started.
type ProfileStore interface {
	GetOwned(id, userID uint) (*models.Profile, error)
}

// QuotaChecker is satisfied by the entitlement ledger.
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, user *models.User) (entitlements.Decision, error)
}

// SessionLog is satisfied by the conversation log.
type SessionLog interface {
	AppendChat(ctx context.Context, userID uint, sessionID string, origin models.EntryOrigin, message string) (uint, error)
	AppendCommand(ctx context.Context, userID uint, sessionID string, origin models.EntryOrigin, command string, details map[string]interface{}) (uint, error)
	ReadSession(ctx context.Context, sessionID string) ([]models.ConversationEntry, error)
}

// Machine owns a story's lifecycle. Step commits happen only after the
// generation capability succeeded, and only through the conditional
// CommitStep, so a crash mid-generation always resumes by re-running the
// same step.
type Machine struct {
	cfg      Config
	stories  StoryStore
	profiles ProfileStore
	ledger   QuotaChecker
	logbook  SessionLog
	gen      assistant.Generator
	locks    Locker
	failures FailureTracker
}

// NewMachine wires a story session state machine.
func NewMachine(cfg Config, stories StoryStore, profiles ProfileStore, ledger QuotaChecker, logbook SessionLog, gen assistant.Generator, locks Locker, failures FailureTracker) *Machine {
	return &Machine{
		cfg:      cfg,
		stories:  stories,
		profiles: profiles,
		ledger:   ledger,
		logbook:  logbook,
		gen:      gen,
		locks:    locks,
		failures: failures,
	}
}

// Config exposes the pipeline configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// Start checks the entitlement and creates a new story at step zero under a
// fresh session. Denied entitlements surface as taxonomy errors and nothing
// is created.
func (m *Machine) Start(ctx context.Context, user *models.User, profileID uint, sessionID, title, features string) (*models.Story, error) {
	profile, err := m.profiles.GetOwned(profileID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("profile %d not found for user %d: %w", profileID, user.ID, err)
	}

	decision, err := m.ledger.CheckAndReserve(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("entitlement check failed: %w", err)
	}
	if !decision.Allowed {
		switch decision.Reason {
		case entitlements.ReasonTrialRestricted:
			return nil, ErrTrialRestricted
		case entitlements.ReasonPlanNotFound:
			return nil, ErrPlanNotFound
		default:
			return nil, ErrQuotaExceeded
		}
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	story := &models.Story{
		ProfileID: profile.ID,
		SessionID: sessionID,
		Title:     title,
		Features:  features,
	}
	if err := m.stories.Create(story); err != nil {
		return nil, fmt.Errorf("failed to create story: %w", err)
	}

	log.Infof("[StoryFlow] Started story %d (session %s) for user %d", story.ID, sessionID, user.ID)
	return story, nil
}

// Advance runs exactly one generation step under the per-story lock. The
// persisted LastSuccessfulStep is reloaded under the lock and is
// authoritative; in-memory state is never trusted across calls.
func (m *Machine) Advance(ctx context.Context, user *models.User, storyID uint) (string, State, error) {
	acquired, err := m.acquireWithRetry(ctx, storyID)
	if err != nil {
		return "", State{}, err
	}
	if !acquired {
		return "", State{}, ErrStorageConflict
	}
	defer func() {
		if err := m.locks.Release(context.Background(), storyID); err != nil {
			log.Errorf("[StoryFlow] Failed to release lock for story %d: %v", storyID, err)
		}
	}()

	story, err := m.stories.GetByID(storyID)
	if err != nil {
		return "", State{}, fmt.Errorf("failed to load story %d: %w", storyID, err)
	}

	step := story.LastSuccessfulStep
	total := m.cfg.TotalSteps()
	if step >= total {
		return "", State{Phase: PhaseCompleted, Step: step}, ErrInvalidStateTransition
	}

	prompt, err := m.buildPrompt(ctx, story, step)
	if err != nil {
		return "", State{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, m.cfg.StepTimeout)
	content, genErr := m.gen.Generate(genCtx, prompt)
	cancel()
	if genErr != nil {
		// The step boundary is the unit of atomicity: the persisted step is
		// untouched, so resume simply re-runs this step.
		if err := m.failures.MarkFailed(ctx, story.ID, step, genErr.Error()); err != nil {
			log.Errorf("[StoryFlow] Failed to mark story %d failed: %v", story.ID, err)
		}
		m.logFailure(ctx, user.ID, story.SessionID, "advance", step, genErr)
		return "", State{Phase: PhaseFailed, Step: step}, fmt.Errorf("%w: %v", ErrGenerationFailure, genErr)
	}

	// Persist the content before committing the step, so a crash in between
	// re-generates rather than skips.
	if _, err := m.logbook.AppendChat(ctx, user.ID, story.SessionID, models.OriginAI, content); err != nil {
		return "", State{}, fmt.Errorf("failed to persist generated content: %w", err)
	}

	rows, err := m.stories.CommitStep(story.ID, step)
	if err != nil {
		return "", State{}, fmt.Errorf("failed to commit step %d for story %d: %w", step, story.ID, err)
	}
	if rows == 0 {
		m.logFailure(ctx, user.ID, story.SessionID, "advance", step, ErrStorageConflict)
		return "", State{}, ErrStorageConflict
	}

	if err := m.failures.ClearFailed(ctx, story.ID); err != nil {
		log.Errorf("[StoryFlow] Failed to clear failure marker for story %d: %v", story.ID, err)
	}

	newStep := step + 1
	if m.cfg.Steps[step].Name == "premise" {
		// Column-targeted write: the step column belongs to CommitStep and
		// read_count to the counter flusher, neither may be written here.
		if err := m.stories.UpdateSynopsis(story.ID, content); err != nil {
			log.Errorf("[StoryFlow] Failed to store synopsis for story %d: %v", story.ID, err)
		}
	}

	state := State{Phase: PhaseInProgress, Step: newStep}
	if newStep == total {
		state.Phase = PhaseCompleted
		if _, err := m.logbook.AppendCommand(ctx, user.ID, story.SessionID, models.OriginAI, "story_completed", map[string]interface{}{
			"story_id": story.ID,
			"steps":    total,
		}); err != nil {
			log.Errorf("[StoryFlow] Failed to log completion for story %d: %v", story.ID, err)
		}
	}

	log.Infof("[StoryFlow] Story %d advanced to step %d/%d", story.ID, newStep, total)
	return content, state, nil
}

// Resume re-enters the pipeline at the persisted step after a generation
// failure or a crash. It clears the failure marker and re-runs Advance.
func (m *Machine) Resume(ctx context.Context, user *models.User, storyID uint) (string, State, error) {
	story, err := m.stories.GetByID(storyID)
	if err != nil {
		return "", State{}, fmt.Errorf("failed to load story %d: %w", storyID, err)
	}
	if story.IsCompleted(m.cfg.TotalSteps()) {
		return "", State{Phase: PhaseCompleted, Step: story.LastSuccessfulStep}, ErrInvalidStateTransition
	}

	if err := m.failures.ClearFailed(ctx, story.ID); err != nil {
		log.Errorf("[StoryFlow] Failed to clear failure marker for story %d: %v", story.ID, err)
	}

	return m.Advance(ctx, user, storyID)
}

// Restart rewinds the story to step zero under a fresh session id. The old
// session's conversation entries remain readable under the old id. It takes
// the same per-story lock as Advance: a reset racing an in-flight generation
// could otherwise be committed over and silently undone.
func (m *Machine) Restart(ctx context.Context, user *models.User, storyID uint) (*models.Story, error) {
	acquired, err := m.acquireWithRetry(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrStorageConflict
	}
	defer func() {
		if err := m.locks.Release(context.Background(), storyID); err != nil {
			log.Errorf("[StoryFlow] Failed to release lock for story %d: %v", storyID, err)
		}
	}()

	newSession := uuid.New().String()
	if err := m.stories.ResetProgress(storyID, newSession); err != nil {
		return nil, fmt.Errorf("failed to restart story %d: %w", storyID, err)
	}
	if err := m.failures.ClearFailed(ctx, storyID); err != nil {
		log.Errorf("[StoryFlow] Failed to clear failure marker for story %d: %v", storyID, err)
	}

	story, err := m.stories.GetByID(storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload story %d: %w", storyID, err)
	}

	log.Infof("[StoryFlow] Story %d restarted under session %s", storyID, newSession)
	return story, nil
}

func (m *Machine) acquireWithRetry(ctx context.Context, storyID uint) (bool, error) {
	// Lock TTL covers the step timeout so a crashed holder cannot block the
	// story past one step's worth of time.
	ttl := m.cfg.StepTimeout + 5*time.Second

	for attempt := 0; ; attempt++ {
		acquired, err := m.locks.Acquire(ctx, storyID, ttl)
		if err != nil {
			return false, fmt.Errorf("failed to acquire story lock: %w", err)
		}
		if acquired {
			return true, nil
		}
		if attempt >= m.cfg.ConflictRetries {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.cfg.ConflictBackoff * time.Duration(attempt+1)):
		}
	}
}

func (m *Machine) buildPrompt(ctx context.Context, story *models.Story, step int) (assistant.PromptContext, error) {
	entries, err := m.logbook.ReadSession(ctx, story.SessionID)
	if err != nil {
		return assistant.PromptContext{}, fmt.Errorf("failed to read session %s: %w", story.SessionID, err)
	}

	history := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type != models.TypeChat {
			continue
		}
		var details struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(e.Details), &details); err != nil || details.Message == "" {
			continue
		}
		history = append(history, fmt.Sprintf("%s: %s", e.Origin, details.Message))
	}

	tmpl := m.cfg.Steps[step]
	return assistant.PromptContext{
		SessionID:   story.SessionID,
		StepName:    tmpl.Name,
		Instruction: tmpl.Instruction,
		History:     history,
		ProfileInfo: story.Features,
	}, nil
}

// logFailure appends the audit entry every failure path must leave behind.
func (m *Machine) logFailure(ctx context.Context, userID uint, sessionID, op string, step int, cause error) {
	if _, err := m.logbook.AppendCommand(ctx, userID, sessionID, models.OriginAI, op+"_failed", map[string]interface{}{
		"step":   step,
		"reason": cause.Error(),
	}); err != nil {
		log.Errorf("[StoryFlow] Failed to log failure entry for session %s: %v", sessionID, err)
	}
}
