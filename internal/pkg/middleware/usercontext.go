package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/magictales/storyforge/app/repository"
	"github.com/magictales/storyforge/internal/pkg/session"
	"github.com/magictales/storyforge/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request
// This centralizes user session handling and eliminates code duplication
func UserContextMiddleware(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return anonymous(c)
	}

	userID := sess.Get(usercontext.KeyUserID)
	if userID == nil {
		return anonymous(c)
	}

	uid, ok := userID.(uint)
	if !ok {
		return anonymous(c)
	}

	username := session.GetSessionValue(c, usercontext.KeyUsername)

	// Plan and trial flag with session-first strategy: resolved from the user
	// record once, then cached in the session for subsequent requests.
	planID, tryMode, cached := cachedEntitlementHints(c)
	if !cached {
		if user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(uid); err == nil {
			planID = user.PlanID
			tryMode = user.TryMode
			_ = session.SetSessionValue(c, usercontext.KeyPlanID, strconv.FormatUint(uint64(planID), 10))
			_ = session.SetSessionValue(c, usercontext.KeyTryMode, strconv.FormatBool(tryMode))
		}
	}

	userCtx := usercontext.UserContext{
		UserID:     uid,
		Username:   username,
		IsLoggedIn: true,
		TryMode:    tryMode,
		PlanID:     planID,
	}
	c.Locals("USER_CONTEXT", userCtx)

	// Legacy compatibility - keep existing Locals for handlers reading them directly
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUserID, uid)
	c.Locals(usercontext.KeyUsername, username)

	return c.Next()
}

func anonymous(c *fiber.Ctx) error {
	c.Locals("USER_CONTEXT", usercontext.UserContext{IsLoggedIn: false})
	c.Locals(usercontext.KeyFromProtected, false)
	return c.Next()
}

func cachedEntitlementHints(c *fiber.Ctx) (planID uint, tryMode bool, ok bool) {
	rawPlan := session.GetSessionValue(c, usercontext.KeyPlanID)
	if rawPlan == "" {
		return 0, false, false
	}
	parsed, err := strconv.ParseUint(rawPlan, 10, 32)
	if err != nil {
		return 0, false, false
	}
	tryMode = session.GetSessionValue(c, usercontext.KeyTryMode) == "true"
	return uint(parsed), tryMode, true
}
