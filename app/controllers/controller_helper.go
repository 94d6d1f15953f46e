package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/magictales/storyforge/internal/pkg/storyflow"
	"github.com/magictales/storyforge/internal/pkg/usercontext"
)

// requireUser resolves the authenticated user context or writes a 401.
func requireUser(c *fiber.Ctx) (usercontext.UserContext, bool) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
		return usercontext.UserContext{}, false
	}
	return userCtx, true
}

// parseIDParam reads a positive numeric route parameter.
func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func notFoundOrInternal(c *fiber.Ctx, err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", what+" not found")
	}
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load "+what)
}

// storyErrorResponse maps pipeline taxonomy errors to HTTP statuses. Anything
// outside the taxonomy is a 500.
func storyErrorResponse(c *fiber.Ctx, err error) error {
	reason := storyflow.ReasonForError(err)

	var status int
	switch {
	case errors.Is(err, storyflow.ErrQuotaExceeded),
		errors.Is(err, storyflow.ErrTrialRestricted),
		errors.Is(err, storyflow.ErrPlanNotFound):
		status = fiber.StatusForbidden
	case errors.Is(err, storyflow.ErrInvalidStateTransition):
		status = fiber.StatusConflict
	case errors.Is(err, storyflow.ErrGenerationFailure):
		status = fiber.StatusBadGateway
	case errors.Is(err, storyflow.ErrStorageConflict):
		status = fiber.StatusTooManyRequests
	case errors.Is(err, gorm.ErrRecordNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "story not found")
	default:
		status = fiber.StatusInternalServerError
	}

	return jsonError(c, status, reason, err.Error())
}
