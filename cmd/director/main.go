// Command director is a service-management daemon that starts and stops
// providers in dependency order across run levels.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/axondata/go-director"
)

// Global carries state shared by every command
type Global struct {
	Logger *slog.Logger
	Config director.Config
}

// CLI is the command-line interface
type CLI struct {
	Config    string           `short:"c" help:"Daemon configuration file" type:"path"`
	LogLevel  string           `name:"log-level" help:"Override the configured log level" enum:",debug,info,warn,error" default:""`
	LogFormat string           `name:"log-format" help:"Override the configured log format" enum:",text,json" default:""`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run   RunCmd   `cmd:"" default:"withargs" help:"Run the daemon"`
	Order OrderCmd `cmd:"" help:"Print the start and stop order of a run level"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("director"),
		kong.Description("Dependency ordered service management"),
		kong.Vars{"version": director.Version},
	)

	cfg, err := director.LoadConfig(cli.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.LogFormat = cli.LogFormat
	}

	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	err = ctx.Run(&Global{Logger: logger, Config: cfg})
	ctx.FatalIfErrorf(err)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
