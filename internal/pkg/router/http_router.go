package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/magictales/storyforge/app/controllers"
	"github.com/magictales/storyforge/internal/pkg/constants"
	"github.com/magictales/storyforge/internal/pkg/middleware"
	"github.com/magictales/storyforge/internal/pkg/session"
	"github.com/magictales/storyforge/internal/pkg/token"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply auth middlewares globally: session context first, then bearer
	// tokens for clients without a cookie session
	app.Use(middleware.UserContextMiddleware)
	app.Use(middleware.JWTAuthMiddleware(token.NewManagerFromEnv()))

	// Initialize controllers with their dependencies
	controllers.InitializeAuthController()
	controllers.InitializeStoryController()

	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get(constants.MonitorRoute, monitor.New(monitor.Config{Title: "StoryForge Metrics"}))
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
