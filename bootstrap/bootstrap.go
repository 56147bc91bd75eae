package bootstrap

import (
	"wekeza-backend/internal/config"
	"wekeza-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for serverless deployments. The reconciliation
// sweeper is not started here; serverless invocations are request-scoped and
// the sweep runs from the long-lived API process instead.
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app, _, _, _, err := router.CreateApp(cfg)
	return app, err
}
