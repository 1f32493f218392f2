package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fzft/go-async-event/cmd"
)

func main() {
	app := &cli.App{
		Name:  "aevent",
		Usage: "multi-reactor event loop: demo server, load generator and line client",
		Commands: []*cli.Command{
			serveCommand(),
			benchCommand(),
			cliCommand(),
			versionCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cliCommand() *cli.Command {
	return &cli.Command{
		Name:  "cli",
		Usage: "interactive line client against a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Value:   "127.0.0.1:8080",
				Usage:   "server address",
				EnvVars: []string{"AEVENT_ADDR"},
			},
		},
		Action: func(c *cli.Context) error {
			return cmd.RunREPL(c.String("addr"))
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print build metadata",
		Action: func(c *cli.Context) error {
			fmt.Printf("aevent %s (build %s, %s)\n", GitSHA1(), buildID, buildDate)
			return nil
		},
	}
}
