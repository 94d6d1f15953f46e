package storyflow

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/magictales/storyforge/app/models"
)

// Command names accepted by the orchestrator.
const (
	CommandStart   = "start"
	CommandAdvance = "advance"
	CommandResume  = "resume"
	CommandRestart = "restart"
)

// Command is one user request against the generation pipeline.
type Command struct {
	Name      string `json:"command" validate:"required,oneof=start advance resume restart"`
	ProfileID uint   `json:"profile_id,omitempty"`
	StoryID   uint   `json:"story_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Features  string `json:"features,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Result is what a successfully dispatched command produced.
type Result struct {
	Story   *models.Story `json:"story"`
	State   State         `json:"state"`
	Content string        `json:"content,omitempty"`
}

// OwnedStoryStore additionally enforces ownership when resolving a command's
// story.
type OwnedStoryStore interface {
	GetOwned(id, userID uint) (*models.Story, error)
}

// Orchestrator is the top-level driver: it resolves the target story, logs
// the inbound command and its outcome, and dispatches to the state machine.
// It is the only component that reaches the generation capability (through
// the machine it owns).
type Orchestrator struct {
	machine *Machine
	stories OwnedStoryStore
	logbook SessionLog
}

// NewOrchestrator wires the request driver around a machine.
func NewOrchestrator(machine *Machine, stories OwnedStoryStore, logbook SessionLog) *Orchestrator {
	return &Orchestrator{machine: machine, stories: stories, logbook: logbook}
}

// Machine exposes the underlying state machine, e.g. for state queries.
func (o *Orchestrator) Machine() *Machine {
	return o.machine
}

// HandleRequest dispatches one command for one user. Every request leaves at
// least two conversation entries: the inbound user command and the outcome.
func (o *Orchestrator) HandleRequest(ctx context.Context, user *models.User, cmd Command) (*Result, error) {
	var story *models.Story
	sessionID := ""

	switch cmd.Name {
	case CommandStart:
		// The session id exists before the story so the inbound command is
		// the session's first entry.
		sessionID = uuid.New().String()
	case CommandAdvance, CommandResume, CommandRestart:
		var err error
		story, err = o.stories.GetOwned(cmd.StoryID, user.ID)
		if err != nil {
			return nil, fmt.Errorf("story %d not found for user %d: %w", cmd.StoryID, user.ID, err)
		}
		sessionID = story.SessionID
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidStateTransition, cmd.Name)
	}

	o.logInbound(ctx, user.ID, sessionID, cmd)

	result, err := o.dispatch(ctx, user, cmd, story, sessionID)
	o.logOutcome(ctx, user.ID, sessionID, cmd, result, err)
	return result, err
}

func (o *Orchestrator) dispatch(ctx context.Context, user *models.User, cmd Command, story *models.Story, sessionID string) (*Result, error) {
	switch cmd.Name {
	case CommandStart:
		created, err := o.machine.Start(ctx, user, cmd.ProfileID, sessionID, cmd.Title, cmd.Features)
		if err != nil {
			return nil, err
		}
		return &Result{Story: created, State: State{Phase: PhaseInProgress, Step: 0}}, nil

	case CommandAdvance:
		content, state, err := o.machine.Advance(ctx, user, story.ID)
		if err != nil {
			return nil, err
		}
		refreshed, _ := o.stories.GetOwned(story.ID, user.ID)
		if refreshed == nil {
			refreshed = story
		}
		return &Result{Story: refreshed, State: state, Content: content}, nil

	case CommandResume:
		content, state, err := o.machine.Resume(ctx, user, story.ID)
		if err != nil {
			return nil, err
		}
		refreshed, _ := o.stories.GetOwned(story.ID, user.ID)
		if refreshed == nil {
			refreshed = story
		}
		return &Result{Story: refreshed, State: state, Content: content}, nil

	case CommandRestart:
		restarted, err := o.machine.Restart(ctx, user, story.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Story: restarted, State: State{Phase: PhaseInProgress, Step: 0}}, nil
	}

	return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidStateTransition, cmd.Name)
}

func (o *Orchestrator) logInbound(ctx context.Context, userID uint, sessionID string, cmd Command) {
	details := map[string]interface{}{}
	if cmd.ProfileID != 0 {
		details["profile_id"] = cmd.ProfileID
	}
	if cmd.StoryID != 0 {
		details["story_id"] = cmd.StoryID
	}
	if cmd.Message != "" {
		details["message"] = cmd.Message
	}
	if _, err := o.logbook.AppendCommand(ctx, userID, sessionID, models.OriginUser, cmd.Name, details); err != nil {
		log.Errorf("[StoryFlow] Failed to log inbound command %s: %v", cmd.Name, err)
	}
}

func (o *Orchestrator) logOutcome(ctx context.Context, userID uint, sessionID string, cmd Command, result *Result, cause error) {
	details := map[string]interface{}{"status": "ok"}
	if cause != nil {
		details["status"] = "error"
		details["reason"] = ReasonForError(cause)
	} else if result != nil {
		details["phase"] = string(result.State.Phase)
		details["step"] = result.State.Step
		if result.Story != nil {
			details["story_id"] = result.Story.ID
			if cmd.Name == CommandRestart || cmd.Name == CommandStart {
				details["session_id"] = result.Story.SessionID
			}
		}
	}
	if _, err := o.logbook.AppendCommand(ctx, userID, sessionID, models.OriginAI, cmd.Name+"_result", details); err != nil {
		log.Errorf("[StoryFlow] Failed to log outcome of %s: %v", cmd.Name, err)
	}
}
