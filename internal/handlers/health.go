package handlers

import (
	"corapay/internal/repositories"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck reports process liveness plus database reachability.
func HealthCheck(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok"}

	sqlDB, err := repositories.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	status["database"] = "ok"
	return c.JSON(status)
}
