package telemetry

import (
	"net"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HandlerStartTime is the echo context key under which handlers store their
// start time so the access log can report latency.
const HandlerStartTime = "handler_start_time"

type Logger interface {
	Log(ctx echo.Context, err error) *zerolog.Event
	Info() *zerolog.Event
	Debug() *zerolog.Event
}

type logger struct {
	logger zerolog.Logger
}

// ZLogger builds the process-wide logger. format is "pretty" or "json",
// level any zerolog level name.
func ZLogger(format, level string) Logger {
	return &logger{logger: setupLogger(format, level)}
}

func setupLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	l := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	if format == "pretty" {
		l = l.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	return l
}

// Log emits one access-log event for the request held by ctx. Authorization
// header contents are deliberately never part of the event.
func (l *logger) Log(ctx echo.Context, errMsg error) *zerolog.Event {
	stop := time.Now()
	start, ok := ctx.Get(HandlerStartTime).(time.Time)
	if !ok {
		start = stop
	}
	req := ctx.Request()
	res := ctx.Response()

	level := zerolog.InfoLevel
	if res.Status >= 400 {
		level = zerolog.ErrorLevel
	}

	event := l.
		logger.
		WithLevel(level).
		Time("time", start).
		IPAddr("remote_ip", net.ParseIP(ctx.RealIP())).
		Str("host", req.Host).
		Str("method", req.Method).
		Str("user_agent", req.UserAgent()).
		Int("status", res.Status).
		Dur("latency", stop.Sub(start)).
		Int64("bytes_out", res.Size).
		Func(func(e *zerolog.Event) {
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}

			e.Str("request_id", id)
		}).
		Func(func(e *zerolog.Event) {
			p := req.URL.Path
			if p == "" {
				p = "/"
			}
			e.Str("path", p)
		}).
		Func(func(e *zerolog.Event) {
			if errMsg != nil {
				e.Err(errMsg)
			}
		})

	return event
}

func (l *logger) Debug() *zerolog.Event {
	return l.logger.WithLevel(zerolog.DebugLevel)
}

func (l *logger) Info() *zerolog.Event {
	return l.logger.WithLevel(zerolog.InfoLevel)
}
