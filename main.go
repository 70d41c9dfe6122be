package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pyoci/pyoci/cmd/server"
)

func main() {
	app := &cli.App{
		Name:                 "pyoci",
		Usage:                "use an OCI registry as a python package index",
		DefaultCommand:       "start",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			server.NewServerCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
