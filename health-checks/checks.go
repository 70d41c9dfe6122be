package healthchecks

import (
	"context"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/labstack/echo/v4"
)

// NewHealthChecksAPI serves the liveness endpoint. There is no database or
// local state to probe; the service is healthy when it can run a check at
// all. Upstream registries are deliberately not probed, they belong to the
// caller and vary per request.
func NewHealthChecksAPI() echo.HandlerFunc {
	cacheOpt := health.WithCacheDuration(time.Second * 30)
	timeoutOpt := health.WithTimeout(time.Second * 10)
	livenessOpt := health.WithCheck(health.Check{
		Name: "process",
		Check: func(ctx context.Context) error {
			return nil
		},
	})

	checker := health.NewChecker(
		cacheOpt,
		timeoutOpt,
		livenessOpt,
	)

	return echo.WrapHandler(health.NewHandler(checker))
}
