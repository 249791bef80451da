package director

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"vawter.tech/stopper"

	"github.com/axondata/go-director/internal/logfields"
	iunix "github.com/axondata/go-director/internal/unix"
)

// ExitHandler receives the wait status of a reaped child
type ExitHandler func(pid int, status ExitStatus)

// Reaper collects the exit status of every child of the daemon on SIGCHLD.
// As pid 1 or a child subreaper this includes orphaned descendants of jobs.
type Reaper struct {
	handler ExitHandler
	log     *slog.Logger
}

// NewReaper creates a reaper forwarding statuses to handler
func NewReaper(handler ExitHandler, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{handler: handler, log: logger}
}

// Start registers as child subreaper when not running as init and reaps on
// a goroutine owned by ctx until it stops
func (r *Reaper) Start(ctx *stopper.Context) error {
	if !iunix.IsInit() {
		if err := iunix.SetChildSubreaper(); err != nil {
			return &OpError{Op: OpReap, Subject: "subreaper", Err: err}
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGCHLD)
	ctx.Defer(func() { signal.Stop(sigs) })

	ctx.Go(func(ctx *stopper.Context) error {
		// children may have exited before the handler was installed
		r.Reap()
		for {
			select {
			case <-ctx.Stopping():
				return nil
			case <-sigs:
				r.Reap()
			}
		}
	})
	return nil
}

// Reap collects every child that has already exited and returns how many were reaped
func (r *Reaper) Reap() int {
	reaped := 0
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if !errors.Is(err, unix.ECHILD) {
				r.log.Warn("wait failed", logfields.Error(err))
			}
			return reaped
		}
		if pid <= 0 {
			return reaped
		}
		if ws.Stopped() || ws.Continued() {
			continue
		}
		reaped++
		status := exitStatusFromWait(ws)
		r.log.Debug("reaped child", logfields.PID(pid), slog.String("status", status.String()))
		if r.handler != nil {
			r.handler(pid, status)
		}
	}
}
