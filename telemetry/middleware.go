package telemetry

import (
	"time"

	"github.com/labstack/echo/v4"
)

// ZerologMiddleware emits one access-log event per request. Errors are
// resolved into responses here so the event carries the final status.
func ZerologMiddleware(logger Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, ok := ctx.Get(HandlerStartTime).(time.Time); !ok {
				ctx.Set(HandlerStartTime, time.Now())
			}

			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}
			logger.Log(ctx, err).Send()
			return nil
		}
	}
}
