package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/app/repository"
)

type profileRequest struct {
	Details string `json:"details" validate:"required,min=1"`
}

// HandleProfileCreate adds a persona for the logged-in user.
func HandleProfileCreate(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	profile := &models.Profile{
		UserID:  userCtx.UserID,
		Details: req.Details,
	}
	if err := repository.GetGlobalFactory().GetProfileRepository().Create(profile); err != nil {
		log.Errorf("[Profile] Failed to create profile for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to create profile")
	}

	return c.Status(fiber.StatusCreated).JSON(profile)
}

// HandleProfileList returns the user's profiles.
func HandleProfileList(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	profiles, err := repository.GetGlobalFactory().GetProfileRepository().GetByUserID(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load profiles")
	}
	return c.JSON(fiber.Map{"profiles": profiles})
}

// HandleProfileGet returns one of the user's profiles with its stories.
func HandleProfileGet(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}
	profileID, err := parseIDParam(c, "id")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid profile id")
	}

	profile, err := repository.GetGlobalFactory().GetProfileRepository().GetOwned(profileID, userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "profile")
	}
	return c.JSON(profile)
}

// HandleProfileUpdate changes a profile's details.
func HandleProfileUpdate(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}
	profileID, err := parseIDParam(c, "id")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid profile id")
	}

	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetProfileRepository()
	profile, err := repo.GetOwned(profileID, userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "profile")
	}

	profile.Details = req.Details
	if err := repo.Update(profile); err != nil {
		log.Errorf("[Profile] Failed to update profile %d: %v", profileID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to update profile")
	}
	return c.JSON(profile)
}

// HandleProfileDelete removes a profile and, with it, its stories.
func HandleProfileDelete(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}
	profileID, err := parseIDParam(c, "id")
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid profile id")
	}

	repo := repository.GetGlobalFactory().GetProfileRepository()
	if _, err := repo.GetOwned(profileID, userCtx.UserID); err != nil {
		return notFoundOrInternal(c, err, "profile")
	}
	if err := repo.Delete(profileID); err != nil {
		log.Errorf("[Profile] Failed to delete profile %d: %v", profileID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to delete profile")
	}

	return c.SendStatus(fiber.StatusNoContent)
}
