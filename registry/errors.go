package registry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pyoci/pyoci/httperr"
)

// ErrorHandler maps errors onto plain-text responses. Translation errors
// carry their own status; echo's built-in errors (route misses, the body
// limit) keep theirs; everything else is a programmer error and reports
// 500 without leaking details. The access-log middleware records the
// underlying error, nothing needs to be logged here.
func ErrorHandler() echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		if ctx.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		var herr *httperr.Error
		var echoErr *echo.HTTPError
		switch {
		case errors.As(err, &herr):
			status = herr.Status
			message = herr.Message
		case errors.As(err, &echoErr):
			status = echoErr.Code
			message = fmt.Sprintf("%v", echoErr.Message)
			if status == http.StatusNotFound {
				// Unmatched routes attract crawlers and misconfigured
				// installers; let them back off for a while.
				ctx.Response().Header().Set("Cache-Control", "public, max-age=3600")
			}
		}

		if ctx.Request().Method == http.MethodHead {
			_ = ctx.NoContent(status)
			return
		}
		_ = ctx.String(status, message)
	}
}
