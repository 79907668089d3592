package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexanderramin/dayplan/internal/cli"
	"github.com/alexanderramin/dayplan/internal/config"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load(configPath(os.Args[1:]))
	if err != nil {
		return err
	}

	app := &cli.App{
		Config:    cfg,
		LogOutput: os.Stderr,
		IsInteractive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		},
	}
	// Pending writes are flushed on every exit path, signals included.
	defer func() {
		err = errors.Join(err, app.Close(context.Background()))
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(app)
	root.PersistentFlags().String("config", "", "YAML config file (default $"+config.EnvConfigPath+")")
	return root.ExecuteContext(ctx)
}

// configPath finds --config ahead of cobra, since the file must be loaded
// before flags are bound.
func configPath(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
