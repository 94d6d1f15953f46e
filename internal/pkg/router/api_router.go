package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/magictales/storyforge/app/controllers"
	"github.com/magictales/storyforge/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// auth
	v1.Post("/auth/register", controllers.HandleAuthRegister)
	v1.Post("/auth/login", controllers.HandleAuthLogin)
	v1.Post("/auth/logout", controllers.HandleAuthLogout)
	v1.Post("/auth/refresh", controllers.HandleAuthRefresh)

	// plans and stats are public so the pricing page needs no login
	v1.Get("/plans", controllers.HandlePlanList)
	v1.Get("/stats", controllers.HandleStats)

	// everything below requires an authenticated user
	authed := v1.Group("", middleware.RequireAuth)

	authed.Get("/account", controllers.HandleUserAccount)
	authed.Patch("/account/name", controllers.HandleUserUpdateName)
	authed.Post("/account/plan", controllers.HandleUserChangePlan)
	authed.Post("/account/email-change", controllers.HandleUserRequestEmailChange)
	authed.Post("/account/email-change/confirm", controllers.HandleUserConfirmEmailChange)
	authed.Post("/account/password", controllers.HandleUserChangePassword)

	authed.Post("/profiles", controllers.HandleProfileCreate)
	authed.Get("/profiles", controllers.HandleProfileList)
	authed.Get("/profiles/:id", controllers.HandleProfileGet)
	authed.Put("/profiles/:id", controllers.HandleProfileUpdate)
	authed.Delete("/profiles/:id", controllers.HandleProfileDelete)

	authed.Post("/stories", controllers.HandleStoryStart)
	authed.Get("/stories", controllers.HandleStoryList)
	authed.Get("/stories/:id", controllers.HandleStoryGet)
	authed.Delete("/stories/:id", controllers.HandleStoryDelete)
	authed.Post("/stories/:id/advance", controllers.HandleStoryAdvance)
	authed.Post("/stories/:id/resume", controllers.HandleStoryResume)
	authed.Post("/stories/:id/restart", controllers.HandleStoryRestart)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
