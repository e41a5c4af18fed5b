package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/buskit/cmd/busctl/console"
)

var version string
var commit string
var date string

var charm *chlog.Logger

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "busctl"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "peripheral bus transaction tool"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:  "config",
			Value: "busctl.yaml",
			Usage: "adapter configuration file",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm = chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		if err := loadConfig(ctx.String("config")); err != nil {
			return console.Exit(1, "could not load %s: %s", ctx.String("config"), console.Red(err))
		}
		return nil
	}
	app.Commands = cli.Commands{
		&scanCmd,
		&dumpCmd,
		&xferCmd,
		&benchCmd,
		&shellCmd,
		&usbCmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}
