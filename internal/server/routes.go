package server

import (
	"scrapehub/internal/core/adstxt"
	"scrapehub/internal/core/job"
	"scrapehub/internal/health"
	"scrapehub/internal/platform/postgres"
	"scrapehub/internal/platform/redis"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Job      *job.Service
	AdsTxt   *adstxt.Service
	Redis    *redis.Service
	Postgres *postgres.Service
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Redis, d.Postgres)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	jobHandler := job.NewHandler(d.Job)
	jobs := app.Group("/jobs/api")
	jobs.Get("/", jobHandler.HandleList)
	jobs.Post("/submit/", jobHandler.HandleSubmit)
	jobs.Post("/:id/pause/", jobHandler.HandlePause)
	jobs.Post("/:id/resume/", jobHandler.HandleResume)
	jobs.Post("/:id/stop/", jobHandler.HandleStop)
	jobs.Get("/:id/status/", jobHandler.HandleStatus)
	jobs.Get("/:id/results/", jobHandler.HandleResults)
	jobs.Get("/:id/events/", jobHandler.HandleEvents)

	checkHandler := adstxt.NewHandler(d.AdsTxt)
	app.Post("/ads-txt/check/", checkHandler.HandleCheck)

	return healthHandler
}
