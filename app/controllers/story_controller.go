package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/magictales/storyforge/app/repository"
	"github.com/magictales/storyforge/internal/pkg/assistant"
	"github.com/magictales/storyforge/internal/pkg/conversation"
	"github.com/magictales/storyforge/internal/pkg/entitlements"
	"github.com/magictales/storyforge/internal/pkg/metrics/counter"
	"github.com/magictales/storyforge/internal/pkg/plancatalog"
	"github.com/magictales/storyforge/internal/pkg/storyflow"
)

var (
	storyOrchestrator *storyflow.Orchestrator
	conversationLog   *conversation.Log
	planCatalog       *plancatalog.Catalog
	quotaLedger       *entitlements.Ledger
)

// InitializeStoryController wires the generation pipeline over the global
// repository factory. Must run after the database and cache are up.
func InitializeStoryController() {
	factory := repository.GetGlobalFactory()
	stories := factory.GetStoryRepository()
	profiles := factory.GetProfileRepository()

	planCatalog = plancatalog.New(factory.GetPlanRepository())
	conversationLog = conversation.NewLog(factory.GetConversationRepository())
	quotaLedger = entitlements.NewLedger(stories, planCatalog)

	machine := storyflow.NewMachine(
		storyflow.DefaultConfig(),
		stories,
		profiles,
		quotaLedger,
		conversationLog,
		assistant.NewClientFromEnv(),
		storyflow.NewRedisLocker(),
		storyflow.NewRedisFailureTracker(),
	)
	storyOrchestrator = storyflow.NewOrchestrator(machine, stories, conversationLog)

	log.Info("[StoryFlow] Story pipeline initialized")
}

type startStoryRequest struct {
	ProfileID uint   `json:"profile_id" validate:"required"`
	Title     string `json:"title" validate:"required,min=1,max=255"`
	Features  string `json:"features,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleStoryStart opens a new story for one of the user's profiles.
func HandleStoryStart(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req startStoryRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}

	result, err := storyOrchestrator.HandleRequest(c.Context(), user, storyflow.Command{
		Name:      storyflow.CommandStart,
		ProfileID: req.ProfileID,
		Title:     req.Title,
		Features:  req.Features,
		Message:   req.Message,
	})
	if err != nil {
		return storyErrorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"story": result.Story,
		"state": result.State,
	})
}

// HandleStoryAdvance runs the next generation step of a story.
func HandleStoryAdvance(c *fiber.Ctx) error {
	return handleStoryTransition(c, storyflow.CommandAdvance)
}

// HandleStoryResume re-runs the step a story failed or crashed on.
func HandleStoryResume(c *fiber.Ctx) error {
	return handleStoryTransition(c, storyflow.CommandResume)
}

// HandleStoryRestart rewinds a story to the beginning under a new session.
func HandleStoryRestart(c *fiber.Ctx) error {
	return handleStoryTransition(c, storyflow.CommandRestart)
}

func handleStoryTransition(c *fiber.Ctx, command string) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}
	storyID, err := parseIDParam(c, "id")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid story id")
	}

	var body struct {
		Message string `json:"message,omitempty"`
	}
	_ = c.BodyParser(&body)

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}

	result, err := storyOrchestrator.HandleRequest(c.Context(), user, storyflow.Command{
		Name:    command,
		StoryID: storyID,
		Message: body.Message,
	})
	if err != nil {
		return storyErrorResponse(c, err)
	}

	response := fiber.Map{
		"story": result.Story,
		"state": result.State,
	}
	if result.Content != "" {
		response["content"] = result.Content
	}
	return c.JSON(response)
}

// HandleStoryList returns all of the user's stories with their states.
func HandleStoryList(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	stories, err := repository.GetGlobalFactory().GetStoryRepository().GetByUserID(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load stories")
	}

	machine := storyOrchestrator.Machine()
	out := make([]fiber.Map, 0, len(stories))
	for i := range stories {
		out = append(out, fiber.Map{
			"story": stories[i],
			"state": machine.StateOf(c.Context(), &stories[i]),
		})
	}
	return c.JSON(fiber.Map{"stories": out})
}

// HandleStoryGet returns one story, its state and its session conversation.
func HandleStoryGet(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}
	storyID, err := parseIDParam(c, "id")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid story id")
	}

	story, err := repository.GetGlobalFactory().GetStoryRepository().GetOwned(storyID, userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "story")
	}

	entries, err := conversationLog.ReadSession(c.Context(), story.SessionID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load conversation")
	}

	if err := counter.AddStoryRead(story.ID); err != nil {
		log.Errorf("[StoryFlow] Failed to count read for story %d: %v", story.ID, err)
	}

	return c.JSON(fiber.Map{
		"story":        story,
		"state":        storyOrchestrator.Machine().StateOf(c.Context(), story),
		"conversation": entries,
	})
}

// HandleStoryDelete removes a story. Its conversation entries stay, keyed by
// the dead session id.
func HandleStoryDelete(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}
	storyID, err := parseIDParam(c, "id")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid story id")
	}

	repo := repository.GetGlobalFactory().GetStoryRepository()
	if _, err := repo.GetOwned(storyID, userCtx.UserID); err != nil {
		return notFoundOrInternal(c, err, "story")
	}
	if err := repo.Delete(storyID); err != nil {
		log.Errorf("[StoryFlow] Failed to delete story %d: %v", storyID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to delete story")
	}

	return c.SendStatus(fiber.StatusNoContent)
}
