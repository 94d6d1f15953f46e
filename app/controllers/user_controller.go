package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/app/repository"
	"github.com/magictales/storyforge/internal/pkg/mail"
	"github.com/magictales/storyforge/internal/pkg/plancatalog"
	"github.com/magictales/storyforge/internal/pkg/session"
	"github.com/magictales/storyforge/internal/pkg/usercontext"
)

// HandleUserAccount returns the account plus the current quota decision, so
// clients can show "2 of 3 stories used" without a second round trip.
func HandleUserAccount(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	factory := repository.GetGlobalFactory()
	user, err := factory.GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}

	decision, err := quotaLedger.CheckAndReserve(c.Context(), user)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to evaluate quota")
	}

	return c.JSON(fiber.Map{
		"user":  publicUser(user),
		"quota": decision,
	})
}

type updateNameRequest struct {
	Name string `json:"name" validate:"required,min=3,max=150"`
}

// HandleUserUpdateName changes the display name.
func HandleUserUpdateName(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req updateNameRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}

	user.Name = req.Name
	if err := repo.Update(user); err != nil {
		log.Errorf("[User] Failed to update name for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to update name")
	}
	_ = session.SetSessionValue(c, usercontext.KeyUsername, user.Name)

	return c.JSON(publicUser(user))
}

var errUnknownPlan = errors.New("unknown plan")

// changeUserPlan validates the target against the plan catalog before
// mutating the account. Payment handling happens outside this service; the
// plan id just has to exist.
func changeUserPlan(ctx context.Context, users repository.UserRepository, plans *plancatalog.Catalog, userID, planID uint) (*models.User, error) {
	plan, err := plans.PlanByID(ctx, planID)
	if err != nil {
		return nil, errUnknownPlan
	}

	user, err := users.GetByID(userID)
	if err != nil {
		return nil, err
	}

	user.PlanID = plan.ID
	if err := users.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

type changePlanRequest struct {
	PlanID uint `json:"plan_id" validate:"required"`
}

// HandleUserChangePlan moves the account onto another subscription plan and
// refreshes the session-cached plan hint so the new quota applies at once.
func HandleUserChangePlan(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	users := repository.GetGlobalFactory().GetUserRepository()
	user, err := changeUserPlan(c.Context(), users, planCatalog, userCtx.UserID, req.PlanID)
	if err != nil {
		if errors.Is(err, errUnknownPlan) {
			return jsonError(c, fiber.StatusNotFound, "plan_not_found", "plan does not exist")
		}
		return notFoundOrInternal(c, err, "user")
	}
	_ = session.SetSessionValue(c, usercontext.KeyPlanID, strconv.FormatUint(uint64(user.PlanID), 10))

	return c.JSON(publicUser(user))
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleUserRequestEmailChange stages a new address and mails a confirmation
// code to it. The old address stays active until the code is confirmed.
func HandleUserRequestEmailChange(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req emailChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}
	if !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "invalid password")
	}

	newEmail := strings.ToLower(strings.TrimSpace(req.NewEmail))
	if _, err := repo.GetByEmail(newEmail); err == nil {
		return jsonError(c, fiber.StatusConflict, "email_taken", "an account with this email already exists")
	}

	user.PendingEmail = newEmail
	if err := user.GenerateValidationCode(); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to generate code")
	}
	if err := repo.Update(user); err != nil {
		log.Errorf("[User] Failed to stage email change for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to stage email change")
	}

	if err := mail.SendValidationCode(newEmail, user.Name, user.ValidationCode); err != nil {
		log.Errorf("[User] Failed to send validation code to %s: %v", newEmail, err)
	}

	return c.JSON(fiber.Map{"message": "confirmation code sent"})
}

type confirmCodeRequest struct {
	Code int `json:"code" validate:"required"`
}

// HandleUserConfirmEmailChange applies the staged address once the mailed
// code matches.
func HandleUserConfirmEmailChange(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req confirmCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}
	if user.PendingEmail == "" {
		return jsonError(c, fiber.StatusConflict, "no_pending_change", "no email change pending")
	}
	if !user.CheckValidationCode(req.Code) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_code", "confirmation code does not match")
	}

	user.Email = user.PendingEmail
	user.ClearPendingChanges()
	if err := repo.Update(user); err != nil {
		log.Errorf("[User] Failed to apply email change for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to apply email change")
	}

	return c.JSON(publicUser(user))
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// HandleUserChangePassword swaps the password after verifying the current one.
func HandleUserChangePassword(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req passwordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return notFoundOrInternal(c, err, "user")
	}
	if !user.CheckPassword(req.CurrentPassword) {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "invalid password")
	}

	if err := user.SetPassword(req.NewPassword); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to set password")
	}
	if err := repo.Update(user); err != nil {
		log.Errorf("[User] Failed to change password for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to change password")
	}

	return c.JSON(fiber.Map{"message": "password changed"})
}
