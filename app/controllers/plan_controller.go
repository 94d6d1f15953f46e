package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// HandlePlanList returns the seeded subscription plans in display order.
func HandlePlanList(c *fiber.Ctx) error {
	plans, err := planCatalog.All(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "failed to load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}
