package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/magictales/storyforge/app/repository"
	"github.com/magictales/storyforge/internal/pkg/token"
	"github.com/magictales/storyforge/internal/pkg/usercontext"
)

// JWTAuthMiddleware authenticates requests carrying a bearer access token.
// Session-authenticated requests pass through untouched.
func JWTAuthMiddleware(manager *token.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if logged, ok := c.Locals(usercontext.KeyFromProtected).(bool); ok && logged {
			return c.Next()
		}

		tokenString := extractBearerToken(c)
		if tokenString == "" {
			return c.Next()
		}

		claims, err := manager.Validate(tokenString)
		if err != nil {
			status := "invalid token"
			if errors.Is(err, token.ErrExpiredToken) {
				status = "token expired"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": status})
		}

		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetByID(claims.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "unknown user"})
			}
			log.Errorf("[Auth] Token user lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "token verification failed"})
		}

		// Refresh last-visited timestamp best-effort.
		if err := repo.UpdateLastVisited(user.ID, time.Now()); err != nil {
			log.Errorf("[Auth] Failed to update last visited for user %d: %v", user.ID, err)
		}

		userCtx := usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			TryMode:    user.TryMode,
			PlanID:     user.PlanID,
		}
		c.Locals("USER_CONTEXT", userCtx)
		c.Locals(usercontext.KeyFromProtected, true)
		c.Locals(usercontext.KeyUserID, user.ID)
		c.Locals(usercontext.KeyUsername, user.Name)

		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
