package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/axondata/go-director"
	"github.com/axondata/go-director/internal/logfields"
)

// OrderCmd resolves the configuration once and prints the ordering of a run level
type OrderCmd struct {
	Runlevel string `arg:"" optional:"" help:"Run level name or number; every run level when omitted"`
}

func (c *OrderCmd) Run(g *Global) error {
	settings := director.NewSettingsFile(g.Config.SettingsFile, director.WithConfigLogger(g.Logger))
	providers := director.NewProviderDir(g.Config.ProviderDir, director.WithConfigLogger(g.Logger))
	if err := settings.Load(); err != nil {
		g.Logger.Warn("settings incomplete", logfields.Error(err))
	}
	if err := providers.Load(); err != nil {
		g.Logger.Warn("provider definitions incomplete", logfields.Error(err))
	}

	runlevels, diags := director.NewRunlevelTable(settings.Data(director.SettingsName))
	graph, graphDiags := director.Resolve(providers, runlevels)
	diags = append(diags, graphDiags...)

	var levels []director.Runlevel
	if c.Runlevel == "" {
		levels = graph.Runlevels()
	} else {
		rl, ok := runlevels.Resolve(c.Runlevel)
		if !ok {
			return fmt.Errorf("%w: %q", director.ErrUnknownRunlevel, c.Runlevel)
		}
		levels = []director.Runlevel{rl}
	}

	w := os.Stdout
	for _, rl := range levels {
		o := graph.Order(rl)
		fmt.Fprintf(w, "runlevel %s\n", rl)
		fmt.Fprintf(w, "  start: %s\n", strings.Join(o.Start, " "))
		fmt.Fprintf(w, "  stop:  %s\n", strings.Join(o.Stop, " "))
	}
	for _, d := range diags {
		fmt.Fprintf(w, "diagnostic: %s\n", d)
	}
	return nil
}
