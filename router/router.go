package router

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pyoci/pyoci/config"
	healthchecks "github.com/pyoci/pyoci/health-checks"
	"github.com/pyoci/pyoci/registry"
	"github.com/pyoci/pyoci/telemetry"
)

// Register is the entry point that registers all the endpoints
func Register(cfg *config.Config, e *echo.Echo, reg registry.Registry, logger telemetry.Logger) {
	e.HideBanner = true
	e.HTTPErrorHandler = registry.ErrorHandler()

	e.Use(telemetry.ZerologMiddleware(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			requestId := uuid.New()
			return requestId.String()
		},
	}))

	e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxBodySize)))

	p := prometheus.NewPrometheus("pyoci", nil)
	p.Use(e)

	mountRouter := e.Group(cfg.Path)

	mountRouter.Add(http.MethodGet, Root, reg.Root)
	mountRouter.Add(http.MethodGet, Health, healthchecks.NewHealthChecksAPI())

	// GET serves both index listings and downloads, split on the trailer
	mountRouter.Add(http.MethodGet, Packages, reg.Packages)

	// POST /<registry>/<namespace>/
	mountRouter.Add(http.MethodPost, Packages, reg.Publish)

	// DELETE /<registry>/<namespace>/<package>/<version>
	mountRouter.Add(http.MethodDelete, Packages, reg.Delete)
}
