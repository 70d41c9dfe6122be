package server

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v2"

	"github.com/pyoci/pyoci/config"
	"github.com/pyoci/pyoci/registry"
	"github.com/pyoci/pyoci/router"
	"github.com/pyoci/pyoci/telemetry"
	"github.com/pyoci/pyoci/transport"
)

func NewServerCommand() *cli.Command {
	return &cli.Command{
		Name:    "start",
		Aliases: []string{"s"},
		Usage:   "start the pyoci proxy server",
		Action:  RunServer,
	}
}

func RunServer(ctx *cli.Context) error {
	cfg, err := config.ReadEnvConfig()
	if err != nil {
		return fmt.Errorf(color.RedString("error reading configuration: %s", err.Error()))
	}

	logger := telemetry.ZLogger(cfg.LogFormat, cfg.LogLevel)
	e := echo.New()

	pool := transport.NewPool(cfg.RegistryTimeout, logger)
	reg := registry.New(cfg, pool, logger)

	router.Register(cfg, e, reg, logger)

	color.Green("pyoci listening on: %s", cfg.Address())
	if cfg.Path != "" {
		color.Green("mounted under: %s", cfg.Path)
	}

	return e.Start(cfg.Address())
}
