package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/video-system/go-frame-grabber/internal/logging"
	"github.com/video-system/go-frame-grabber/pkg/imaq"
	"github.com/video-system/go-frame-grabber/pkg/input"
)

var version = "1.0.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "capture",
		Usage:   "acquire frames from frame-grabber boards",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log",
				Usage:   "log spec, e.g. info,engine=debug",
				EnvVars: []string{logging.EnvVar},
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format: text, json or auto",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			snapshotCommand(),
			{
				Name:  "version",
				Usage: "print version and available drivers",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "capture %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
					fmt.Fprintf(c.App.Writer, "drivers: %v\n", input.Drivers())
					fmt.Fprintf(c.App.Writer, "imaq: available=%t\n", imaq.Available())
					return nil
				},
			},
		},
	}
}

// newLogger builds the process logger. Command-line settings win over the
// environment, which wins over the config file.
func newLogger(c *cli.Context, configSpec, configFormat string) (*slog.Logger, error) {
	raw := c.String("log-format")
	if raw == "" {
		raw = configFormat
	}
	f, err := logging.ParseFormat(raw)
	if err != nil {
		return nil, err
	}

	opts := logging.Options{
		EnvSpec:    os.Getenv(logging.EnvVar),
		ConfigSpec: configSpec,
		Format:     f,
		Output:     c.App.ErrWriter,
	}
	if c.IsSet("log") {
		opts.CLISpec = c.String("log")
	}
	logger, err := logging.New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
