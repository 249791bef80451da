package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"vawter.tech/stopper"

	"github.com/axondata/go-director"
	"github.com/axondata/go-director/internal/logfields"
)

// RunCmd runs the daemon until SIGTERM
type RunCmd struct {
	Checkpoint string        `name:"checkpoint" help:"Checkpoint left by the previous incarnation" type:"path"`
	Grace      time.Duration `name:"grace" help:"Shutdown grace period" default:"5s"`
}

func (c *RunCmd) Run(g *Global) error {
	log := g.Logger
	cfg := g.Config
	priv := director.CurrentPrivileges()

	var restored *director.Checkpoint
	if c.Checkpoint != "" {
		cp, err := director.ReadCheckpoint(c.Checkpoint)
		if err != nil {
			log.Error("checkpoint unusable, adopting running processes instead", logfields.Error(err))
		} else {
			restored = cp
		}
	}

	sctx := stopper.WithContext(context.Background())
	loop := director.NewLoop(nil)
	loop.Start(sctx)

	table, err := director.NewProcessTable(cfg.ProcRoot)
	if err != nil {
		return err
	}

	services, err := director.NewServiceChecker(cfg.ServiceCheck, cfg.ServiceDir)
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	var recorder director.Recorder = director.NoopRecorder{}
	if cfg.MetricsAddr != "" {
		recorder = director.NewPrometheusRecorder(reg)
	}

	settings := director.NewSettingsFile(cfg.SettingsFile,
		director.WithDebounce(cfg.ConfigDebounce),
		director.WithConfigLogger(log))
	providers := director.NewProviderDir(cfg.ProviderDir,
		director.WithDebounce(cfg.ConfigDebounce),
		director.WithConfigLogger(log))

	orch, err := director.NewOrchestrator(loop, settings, providers,
		director.WithLogger(log),
		director.WithRecorder(recorder),
		director.WithProcessTable(table),
		director.WithProcessWatcher(director.NewPollingWatcher(loop, table, cfg.PollInterval, log)),
		director.WithServiceChecker(services),
		director.WithCheckpoint(cfg.CheckpointPath(), restored),
		director.WithReexec(director.Reexec(priv)),
	)
	if err != nil {
		return err
	}
	orch.OnRunlevelChanged(func(rl string) {
		log.Info("run level changed", logfields.Runlevel(rl))
	})
	orch.OnStuck(func(diags []director.Diagnostic) {
		log.Error("transition needs attention", slog.Int("diagnostics", len(diags)))
	})
	orch.Start()

	reaper := director.NewReaper(orch.ProcessExited, log)
	if err := reaper.Start(sctx); err != nil {
		log.Warn("reaper limited to direct children", logfields.Error(err))
	}

	for _, src := range []*director.FileConfig{settings, providers} {
		if err := src.Watch(sctx); err != nil {
			log.Warn("configuration changes will not be picked up", logfields.Error(err))
		}
		if err := src.Load(); err != nil {
			log.Warn("configuration incomplete", logfields.Error(err))
		}
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(sctx, cfg.MetricsAddr, reg, log)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for sig := range sigs {
		switch sig {
		case syscall.SIGINT:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := orch.RequestReload(ctx)
			cancel()
			log.Error("binary reload refused", logfields.Error(err))
		case syscall.SIGHUP:
			for _, src := range []*director.FileConfig{settings, providers} {
				if err := src.Load(); err != nil {
					log.Warn("configuration incomplete", logfields.Error(err))
				}
			}
		case syscall.SIGTERM:
			log.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), c.Grace)
			_ = loop.Invoke(ctx, orch.Shutdown)
			cancel()
			sctx.Stop(c.Grace)
			return sctx.Wait()
		}
	}
	return nil
}

func serveMetrics(sctx *stopper.Context, addr string, reg *prom.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", director.MetricsHandler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	sctx.Go(func(ctx *stopper.Context) error {
		log.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logfields.Error(err))
		}
		return nil
	})
	sctx.Go(func(ctx *stopper.Context) error {
		<-ctx.Stopping()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
