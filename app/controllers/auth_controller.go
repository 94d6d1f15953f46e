package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/magictales/storyforge/app/models"
	"github.com/magictales/storyforge/app/repository"
	"github.com/magictales/storyforge/internal/pkg/session"
	"github.com/magictales/storyforge/internal/pkg/token"
	"github.com/magictales/storyforge/internal/pkg/usercontext"
	"github.com/magictales/storyforge/internal/pkg/utils"
)

var (
	tokenManager *token.Manager
	validate     = validator.New()
)

// InitializeAuthController wires the token manager used for API logins.
func InitializeAuthController() {
	tokenManager = token.NewManagerFromEnv()
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleAuthRegister creates a new account on the default free plan.
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	user, err := models.CreateUser(req.Name, strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if _, err := repo.GetByEmail(user.Email); err == nil {
		return jsonError(c, fiber.StatusConflict, "email_taken", "an account with this email already exists")
	}
	if err := repo.Create(user); err != nil {
		log.Errorf("[Auth] Failed to create user: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "registration failed")
	}

	accessToken, err := tokenManager.Generate(user.ID, user.Email)
	if err != nil {
		log.Errorf("[Auth] Failed to issue token for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "registration failed")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":         publicUser(user),
		"access_token": accessToken,
	})
}

// HandleAuthLogin verifies credentials and opens both a cookie session and a
// bearer token, so web and API clients share one login endpoint.
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "invalid credentials")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "login failed")
	}

	if !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "invalid credentials")
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "login failed")
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	if err := sess.Save(); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "login failed")
	}

	if err := repo.UpdateLastVisited(user.ID, time.Now()); err != nil {
		log.Errorf("[Auth] Failed to update last visited for user %d: %v", user.ID, err)
	}

	accessToken, err := tokenManager.Generate(user.ID, user.Email)
	if err != nil {
		log.Errorf("[Auth] Failed to issue token for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "login failed")
	}

	return c.JSON(fiber.Map{
		"user":         publicUser(user),
		"access_token": accessToken,
	})
}

// HandleAuthLogout destroys the cookie session. Bearer tokens simply expire.
func HandleAuthLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			log.Errorf("[Auth] Failed to destroy session: %v", err)
		}
	}
	c.Locals(usercontext.KeyFromProtected, false)
	return c.JSON(fiber.Map{"message": "logged out"})
}

// HandleAuthRefresh re-issues a near-expiry bearer token.
func HandleAuthRefresh(c *fiber.Ctx) error {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "missing bearer token")
	}

	refreshed, err := tokenManager.Refresh(strings.TrimSpace(auth[7:]))
	if err != nil {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "invalid or expired token")
	}
	return c.JSON(fiber.Map{"access_token": refreshed})
}

func publicUser(u *models.User) fiber.Map {
	return fiber.Map{
		"id":         u.ID,
		"name":       u.Name,
		"email":      u.Email,
		"avatar_url": utils.GetGravatarURL(u.Email, 200),
		"plan_id":    u.PlanID,
		"try_mode":   u.TryMode,
		"created_at": u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
