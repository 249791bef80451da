package director

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/axondata/go-director/internal/logfields"
)

// processJob runs the action at the front of the queue
func (o *Orchestrator) processJob() {
	o.scheduled = false
	if o.inFlight {
		return
	}
	if len(o.queue) == 0 {
		o.transitionComplete()
		return
	}

	a := o.queue[0]
	log := o.log.With(
		logfields.Provider(a.Provider),
		logfields.Action(actionName(a)),
		logfields.TransitionID(o.transitionID))

	if !o.graph.Has(a.Provider) || len(o.providers.Data(a.Provider)) == 0 {
		log.Error("provider has no configuration")
		o.diags.Push(Diagnostic{
			Context: a.Provider,
			Problem: ProblemMissingConfig,
			Detail:  "no configuration for " + a.String(),
		})
		o.jobStuck()
		return
	}

	if a.Start {
		o.startJob(a.Provider, log)
		return
	}
	o.stopJob(a.Provider, log)
}

func actionName(a Action) string {
	if a.Start {
		return "start"
	}
	return "stop"
}

func (o *Orchestrator) startJob(name string, log *slog.Logger) {
	services := ParseList(o.providers.Get(name, KeyProvidedServices))
	timeout := parseTimeout(o.providers.Get(name, KeyStartTimeout), DefaultStartTimeout)

	if _, running := o.jobs[name]; running {
		if ServicesExist(o.services, services) {
			log.Debug("already running")
			o.jobDone()
			return
		}
		log.Info("already running, waiting for services")
		o.awaitStart(name, services, timeout)
		return
	}

	if !o.preconditions(name, log) {
		o.jobStuck()
		return
	}

	spec := SpawnSpecFor(name, o.providers)
	pid, err := o.spawner.Spawn(spec)
	if err != nil {
		log.Error("spawn failed", logfields.Error(err))
		o.diags.Push(Diagnostic{
			Context: name,
			Field:   KeyExecutable,
			Problem: ProblemSpawn,
			Detail:  err.Error(),
		})
		o.jobStuck()
		return
	}

	// spawned processes lead their own session
	j := o.newJob(name)
	j.AddSession(pid)
	if !j.Add(0, pid) {
		j.Sweep()
	}
	if j.Empty() {
		log.Warn("process exited right after spawn", logfields.PID(pid))
		j.Close()
	} else {
		o.jobs[name] = j
	}
	o.updateGauges()
	log.Info("spawned", logfields.PID(pid), logfields.Path(spec.Executable))

	o.awaitStart(name, services, timeout)
}

func (o *Orchestrator) awaitStart(name string, services []string, timeout time.Duration) {
	o.arm(func() bool {
		return ServicesExist(o.services, services)
	}, func() {
		o.diags.Push(Diagnostic{
			Context: name,
			Field:   KeyProvidedServices,
			Problem: ProblemTimeout,
			Detail:  fmt.Sprintf("services not published within %s: %s", timeout, strings.Join(MissingServices(o.services, services), ", ")),
		})
	}, timeout)
}

// preconditions checks the requirement lists against what is currently published and running
func (o *Orchestrator) preconditions(name string, log *slog.Logger) bool {
	ok := true
	fail := func(field, detail string) {
		ok = false
		d := Diagnostic{Context: name, Field: RequirementsPrefix + field, Problem: ProblemPrecondition, Detail: detail}
		log.LogAttrs(context.Background(), slog.LevelWarn, "start precondition failed", d.LogAttrs()...)
		o.diags.Push(d)
	}

	for _, svc := range ParseList(o.providers.Get(name, RequirementsPrefix+FieldActiveServices)) {
		if !o.services.Exists(svc) {
			fail(FieldActiveServices, fmt.Sprintf("service %q is not published", svc))
		}
	}
	for _, svc := range ParseList(o.providers.Get(name, RequirementsPrefix+FieldInactiveServices)) {
		if o.services.Exists(svc) {
			fail(FieldInactiveServices, fmt.Sprintf("service %q is still published", svc))
		}
	}
	for _, p := range ParseList(o.providers.Get(name, RequirementsPrefix+FieldActiveProviders)) {
		if _, running := o.jobs[p]; !running {
			fail(FieldActiveProviders, fmt.Sprintf("provider %q is not running", p))
		}
	}
	for _, p := range ParseList(o.providers.Get(name, RequirementsPrefix+FieldInactiveProviders)) {
		if _, running := o.jobs[p]; running {
			fail(FieldInactiveProviders, fmt.Sprintf("provider %q is still running", p))
		}
	}
	return ok
}

func (o *Orchestrator) stopJob(name string, log *slog.Logger) {
	j, running := o.jobs[name]
	if !running {
		log.Debug("not running")
		o.jobDone()
		return
	}

	sig, err := ParseSignal(o.providers.Get(name, KeyExitSignal))
	if err != nil {
		log.Warn("invalid exit signal, using SIGTERM", logfields.Field(KeyExitSignal), logfields.Error(err))
		sig = syscall.SIGTERM
	}
	services := ParseList(o.providers.Get(name, KeyProvidedServices))
	timeout := parseTimeout(o.providers.Get(name, KeyExitTimeout), DefaultExitTimeout)
	waitType := ParseExitWaitType(o.providers.Get(name, KeyExitWaitType))
	if waitType == ExitHaltServices && len(services) == 0 {
		waitType = ExitProcessTermination
	}

	o.stopping = name
	if !j.Signal(sig) {
		log.Warn("signal not delivered to every process", slog.String("signal", sig.String()))
		o.diags.Push(Diagnostic{
			Context: name,
			Field:   KeyExitSignal,
			Problem: ProblemSignal,
			Detail:  fmt.Sprintf("%s not delivered to every process of %v", sig, j.PIDs()),
		})
	}
	log.Info("stopping", slog.String("signal", sig.String()), slog.String("wait", waitType.String()))

	switch waitType {
	case ExitAssumeExit:
		o.jobDone()
	case ExitHaltServices:
		o.arm(func() bool {
			return ServicesGone(o.services, services)
		}, func() {
			o.diags.Push(Diagnostic{
				Context: name,
				Field:   KeyProvidedServices,
				Problem: ProblemTimeout,
				Detail:  fmt.Sprintf("services still published after %s", timeout),
			})
		}, timeout)
	default:
		o.arm(j.AllGone, func() {
			o.diags.Push(Diagnostic{
				Context: name,
				Field:   KeyExitTimeout,
				Problem: ProblemTimeout,
				Detail:  fmt.Sprintf("processes %v still running after %s", j.PIDs(), timeout),
			})
		}, timeout)
	}
}

// arm waits for done to hold; onTimeout records why before the transition gets stuck
func (o *Orchestrator) arm(done Predicate, onTimeout func(), timeout time.Duration) {
	o.inFlight = true
	o.waiter = NewWaiter(o.loop, done, o.jobDone, func() {
		onTimeout()
		o.jobStuck()
	})
	o.waiter.Arm(timeout)
}

// jobDone completes the front action and moves on
func (o *Orchestrator) jobDone() {
	o.inFlight = false
	o.waiter = nil
	if len(o.queue) == 0 {
		return
	}

	a := o.queue[0]
	if !a.Start {
		if j, ok := o.jobs[a.Provider]; ok {
			j.Close()
			delete(o.jobs, a.Provider)
		}
		o.stopping = ""
		o.updateGauges()
	}
	o.recorder.IncAction(actionName(a), ResultDone)
	o.log.Info("action done",
		logfields.Provider(a.Provider),
		logfields.Action(actionName(a)),
		logfields.TransitionID(o.transitionID))

	o.queue = o.queue[1:]
	if o.reloadPending {
		o.reloadPending = false
		o.queue = o.graph.Actions(o.target)
		o.log.Info("configuration changed, restarting transition",
			logfields.Runlevel(o.target.String()),
			logfields.TransitionID(o.transitionID))
	}
	o.schedule()
}

// jobStuck aborts the transition and hands the accumulated diagnostics to the stuck handlers
func (o *Orchestrator) jobStuck() {
	o.inFlight = false
	o.waiter = nil
	o.stopping = ""

	if len(o.queue) > 0 {
		o.recorder.IncAction(actionName(o.queue[0]), ResultStuck)
	}
	diags := o.diags.Drain()
	for _, d := range diags {
		o.recorder.IncDiagnostic(d.Problem)
		o.log.LogAttrs(context.Background(), slog.LevelError, "transition problem",
			append(d.LogAttrs(), logfields.TransitionID(o.transitionID))...)
	}

	o.queue = nil
	o.reloadPending = false
	o.state = StateStuck
	o.recorder.ObserveTransition(o.runlevel, o.loop.Clock().Since(o.started), false)
	o.log.Error("transition stuck",
		logfields.Runlevel(o.runlevel),
		logfields.TransitionID(o.transitionID),
		slog.Int("diagnostics", len(diags)))

	for _, fn := range o.onStuck {
		fn(diags)
	}
}

func (o *Orchestrator) transitionComplete() {
	o.state = StateStable
	o.current, o.hasCurrent = o.target, true
	o.recorder.ObserveTransition(o.runlevel, o.loop.Clock().Since(o.started), true)
	o.log.Info("run level reached",
		logfields.Runlevel(o.runlevel),
		logfields.TransitionID(o.transitionID))

	for _, fn := range o.onChanged {
		fn(o.runlevel)
	}

	if o.target != RunlevelBootstrap {
		return
	}
	switch err := o.ReloadBinary(); {
	case err == nil:
		return
	case errors.Is(err, ErrUnsupported):
		o.log.Info("binary replacement not configured, continuing in place")
	default:
		o.log.Error("binary replacement failed, continuing in place", logfields.Error(err))
	}
	o.enterInitial()
}

func (o *Orchestrator) newJob(name string) *Job {
	j := NewJob(name, o.table, o.watcher, o.log)
	j.OnExit(func(status ExitStatus) {
		if o.stopping == name {
			return
		}
		// a job whose processes all died on their own is forgotten so the next start spawns it again
		o.log.Warn("job exited unexpectedly",
			logfields.Provider(name),
			slog.String("status", status.String()))
		if cur, ok := o.jobs[name]; ok && cur == j {
			delete(o.jobs, name)
		}
		j.Close()
		o.updateGauges()
	})
	return j
}

// adopt attaches already running processes to the providers whose executable they run
func (o *Orchestrator) adopt() {
	byExe := make(map[string]string)
	for _, name := range o.graph.Providers() {
		if exe := o.providers.Get(name, KeyExecutable); exe != "" {
			byExe[exe] = name
		}
	}
	if len(byExe) == 0 {
		return
	}

	procs, err := o.table.Processes()
	if err != nil {
		o.log.Warn("process scan failed, nothing adopted", logfields.Error(err))
		return
	}

	self := os.Getpid()
	owner := make(map[int]string)
	parent := make(map[int]int)
	leader := make(map[int]bool)
	for _, p := range procs {
		if p.Zombie || p.PID == self {
			continue
		}
		exe, err := o.table.Executable(p.PID)
		if err != nil {
			continue
		}
		if name, ok := byExe[exe]; ok {
			owner[p.PID] = name
			parent[p.PID] = p.PPID
			leader[p.PID] = p.Session == p.PID
		}
	}

	for pid, name := range owner {
		// descendants running the same program arrive through fork notifications
		if owner[parent[pid]] == name {
			continue
		}
		j, ok := o.jobs[name]
		if !ok {
			j = o.newJob(name)
		}
		if leader[pid] {
			j.AddSession(pid)
		}
		if j.Add(0, pid) {
			o.jobs[name] = j
			o.log.Info("adopted process", logfields.Provider(name), logfields.PID(pid))
		}
	}
	o.updateGauges()
}

// sessionLeaders returns the live processes that lead their own session
func (o *Orchestrator) sessionLeaders() map[int]bool {
	procs, err := o.table.Processes()
	if err != nil {
		o.log.Warn("process scan failed, sessions not restored", logfields.Error(err))
		return nil
	}
	out := make(map[int]bool)
	for _, p := range procs {
		if !p.Zombie && p.Session == p.PID {
			out[p.PID] = true
		}
	}
	return out
}

// parseTimeout reads a timeout given in (fractional) seconds or as a Go duration.
// Empty, invalid and non-positive values select def.
func parseTimeout(value string, def time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return def
		}
		return time.Duration(secs * float64(time.Second))
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return def
}
