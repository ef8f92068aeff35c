package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lorallama/internal/logger"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "lorallama",
		Usage: "Forward passes over Llama-style models with LoRA adapters",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := LoadConfig(configPath())
			if err != nil {
				return ctx, err
			}
			applyLoggingConfig(cmd, cfg)
			log, err := newLogger()
			if err != nil {
				return ctx, err
			}
			ctx = withCLIConfig(ctx, cfg)
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			forwardCmd(),
			inspectCmd(),
			initCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}

func newLogger() (logger.Logger, error) {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if debug {
		level, _ = logger.ParseLevel("debug")
	}
	return logger.Open(logger.Options{
		Format:  logFormat,
		Level:   level,
		Writer:  os.Stderr,
		NoColor: noColor || os.Getenv("NO_COLOR") != "",
	})
}
