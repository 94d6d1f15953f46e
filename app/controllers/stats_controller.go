package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/magictales/storyforge/internal/pkg/statistics"
)

// HandleStats returns the public landing-page counters.
func HandleStats(c *fiber.Ctx) error {
	data := statistics.GetStatisticsData()
	return c.JSON(fiber.Map{
		"total_users":   data.TotalUsers,
		"total_stories": data.TotalStories,
		"today_stories": data.TodayStories,
	})
}
