package director

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/axondata/go-director/internal/logfields"
)

// State is the orchestrator's position in its state machine
type State int

const (
	// StateUninitialized waits for the first complete configuration
	StateUninitialized State = iota
	// StateBootstrapping is the transition into the bootstrap run level
	StateBootstrapping
	// StateStable holds at the current run level
	StateStable
	// StateTransitioning is processing an action queue
	StateTransitioning
	// StateStuck is a transition aborted by a failed action
	StateStuck
)

// State string constants
const (
	stateUninitializedStr = "uninitialized"
	stateBootstrappingStr = "bootstrapping"
	stateStableStr        = "stable"
	stateTransitioningStr = "transitioning"
	stateStuckStr         = "stuck"
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return stateBootstrappingStr
	case StateStable:
		return stateStableStr
	case StateTransitioning:
		return stateTransitioningStr
	case StateStuck:
		return stateStuckStr
	default:
		return stateUninitializedStr
	}
}

// configuration sources the orchestrator waits for
const (
	sourceSettings = iota
	sourceProviders
	numSources
)

// Status is a snapshot of the orchestrator
type Status struct {
	Runlevel     string
	State        State
	TransitionID string
	Queue        []Action
	Jobs         map[string][]PIDPair
}

// Orchestrator drives run-level transitions. Every method without a context
// argument must be called on the loop.
type Orchestrator struct {
	loop      *Loop
	settings  ConfigSource
	providers ConfigSource

	log            *slog.Logger
	recorder       Recorder
	spawner        Spawner
	table          ProcessTable
	services       ServiceChecker
	watcher        ProcessWatcher
	checkpointPath string
	restored       *Checkpoint
	reexec         ReexecFunc
	fatal          func(error)

	seen   [numSources]bool
	synced int

	graph        *Graph
	runlevels    *RunlevelTable
	resolveDiags []Diagnostic
	adopted      bool

	state        State
	runlevel     string
	target       Runlevel
	current      Runlevel
	hasCurrent   bool
	transitionID string
	started      time.Time

	queue         []Action
	scheduled     bool
	inFlight      bool
	reloadPending bool
	waiter        *Waiter
	stopping      string

	jobs  map[string]*Job
	diags DiagnosticQueue

	onChanged []func(runlevel string)
	onStuck   []func(diags []Diagnostic)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithSpawner sets how provider processes are started
func WithSpawner(s Spawner) Option {
	return func(o *Orchestrator) {
		o.spawner = s
	}
}

// WithProcessTable sets the process table used for signals, existence checks and adoption
func WithProcessTable(t ProcessTable) Option {
	return func(o *Orchestrator) {
		o.table = t
	}
}

// WithServiceChecker sets how published services are detected
func WithServiceChecker(c ServiceChecker) Option {
	return func(o *Orchestrator) {
		o.services = c
	}
}

// WithProcessWatcher sets the source of fork and exit notifications
func WithProcessWatcher(w ProcessWatcher) Option {
	return func(o *Orchestrator) {
		o.watcher = w
	}
}

// WithCheckpoint restores the state of a previous incarnation and sets where
// the next checkpoint is written. restored may be nil.
func WithCheckpoint(path string, restored *Checkpoint) Option {
	return func(o *Orchestrator) {
		o.checkpointPath = path
		o.restored = restored
	}
}

// WithReexec sets how the binary replaces itself after writing a checkpoint
func WithReexec(fn ReexecFunc) Option {
	return func(o *Orchestrator) {
		o.reexec = fn
	}
}

// WithFatal sets what happens when privileges cannot be restored before re-exec
func WithFatal(fn func(error)) Option {
	return func(o *Orchestrator) {
		o.fatal = fn
	}
}

// NewOrchestrator creates an orchestrator reading general settings and provider
// definitions from two independent sources
func NewOrchestrator(loop *Loop, settings, providers ConfigSource, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		loop:      loop,
		settings:  settings,
		providers: providers,
		recorder:  NoopRecorder{},
		spawner:   &ExecSpawner{},
		services:  NewDirServices(""),
		jobs:      make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.log == nil {
		o.log = slog.Default()
	}
	if o.fatal == nil {
		o.fatal = func(err error) {
			o.log.Error("fatal", logfields.Error(err))
			os.Exit(int(unix.EPERM))
		}
	}
	if o.table == nil {
		t, err := NewProcessTable("")
		if err != nil {
			return nil, err
		}
		o.table = t
	}
	if o.watcher == nil {
		o.watcher = NewPollingWatcher(loop, o.table, DefaultPollInterval, o.log)
	}
	return o, nil
}

// Start restores checkpointed jobs and subscribes to both configuration sources.
// The first resolve runs once both have synchronized.
func (o *Orchestrator) Start() {
	o.loop.Post(o.restore)
	o.settings.OnSynchronized(func() {
		o.loop.Post(func() { o.synchronized(sourceSettings) })
	})
	o.providers.OnSynchronized(func() {
		o.loop.Post(func() { o.synchronized(sourceProviders) })
	})
}

// OnRunlevelChanged registers fn to run whenever a transition completes
func (o *Orchestrator) OnRunlevelChanged(fn func(runlevel string)) {
	o.onChanged = append(o.onChanged, fn)
}

// OnStuck registers fn to receive the drained diagnostics of a failed transition
func (o *Orchestrator) OnStuck(fn func(diags []Diagnostic)) {
	o.onStuck = append(o.onStuck, fn)
}

func (o *Orchestrator) restore() {
	cp := o.restored
	if cp == nil {
		return
	}
	o.runlevel = cp.Runlevel
	leaders := o.sessionLeaders()
	for name, pairs := range cp.Jobs {
		j := o.newJob(name)
		for _, p := range pairs {
			if p.Parent == 0 && leaders[p.Child] {
				j.AddSession(p.Child)
			}
		}
		if j.Restore(pairs) == 0 {
			o.log.Warn("checkpointed job has no live processes", logfields.Provider(name))
			j.Close()
			continue
		}
		o.jobs[name] = j
	}
	o.log.Info("restored from checkpoint",
		logfields.Runlevel(cp.Runlevel),
		slog.Int("jobs", len(o.jobs)))
	o.updateGauges()
}

func (o *Orchestrator) synchronized(source int) {
	if !o.seen[source] {
		o.seen[source] = true
		o.synced++
	}
	if o.synced < numSources {
		return
	}
	o.reload()
}

// reload re-resolves the graph from the current configuration
func (o *Orchestrator) reload() {
	runlevels, diags := NewRunlevelTable(o.settings.Data(SettingsName))
	graph, graphDiags := Resolve(o.providers, runlevels)
	diags = append(diags, graphDiags...)

	first := o.graph == nil
	o.graph, o.runlevels, o.resolveDiags = graph, runlevels, diags
	for _, d := range diags {
		o.recorder.IncDiagnostic(d.Problem)
		o.log.LogAttrs(context.Background(), slog.LevelWarn, "configuration problem", d.LogAttrs()...)
	}
	o.log.Info("dependencies resolved",
		slog.Int("providers", len(graph.Providers())),
		slog.Int("diagnostics", len(diags)))

	if !o.adopted {
		o.adopted = true
		if o.restored == nil {
			o.adopt()
		}
	}

	if first {
		o.begin()
		return
	}

	if len(o.queue) == 0 {
		return
	}
	if o.inFlight {
		o.reloadPending = true
		return
	}
	o.queue = o.graph.Actions(o.target)
	o.log.Info("configuration changed, restarting transition",
		logfields.Runlevel(o.target.String()),
		logfields.TransitionID(o.transitionID))
	o.schedule()
}

// begin enters the first run level after the initial resolve
func (o *Orchestrator) begin() {
	switch o.runlevel {
	case "":
		o.state = StateBootstrapping
		if err := o.SetRunlevel(runlevelBootstrapStr); err != nil {
			o.log.Error("cannot enter bootstrap", logfields.Error(err))
		}
	case runlevelBootstrapStr:
		o.current, o.hasCurrent = RunlevelBootstrap, true
		o.state = StateStable
		o.enterInitial()
	default:
		if rl, ok := o.runlevels.Resolve(o.runlevel); ok {
			o.current, o.hasCurrent = rl, true
		}
		o.state = StateStable
	}
}

func (o *Orchestrator) enterInitial() {
	initial := o.settings.Get(SettingsName, KeyInitialRunlevel)
	if initial == "" {
		o.log.Warn("no initial run level configured", logfields.Field(KeyInitialRunlevel))
		return
	}
	if err := o.SetRunlevel(initial); err != nil {
		o.log.Error("cannot enter initial run level", logfields.Runlevel(initial), logfields.Error(err))
	}
}

// SetRunlevel starts a transition to the named run level
func (o *Orchestrator) SetRunlevel(name string) error {
	if len(o.queue) > 0 || o.inFlight {
		return ErrTransitionInFlight
	}
	if o.graph == nil {
		return ErrNotSynchronized
	}
	rl, ok := o.runlevels.Resolve(name)
	if !ok {
		return ErrUnknownRunlevel
	}
	if o.state == StateStable && o.hasCurrent && o.current == rl {
		return ErrSameRunlevel
	}

	o.transitionID = uuid.NewString()
	o.started = o.loop.Clock().Now()
	o.runlevel = name
	o.target = rl
	o.queue = o.graph.Actions(rl)
	o.diags.Drain()
	if rl == RunlevelBootstrap {
		o.state = StateBootstrapping
	} else {
		o.state = StateTransitioning
	}

	o.log.Info("run level change accepted",
		logfields.Runlevel(name),
		logfields.TransitionID(o.transitionID),
		slog.Int("actions", len(o.queue)))
	o.schedule()
	return nil
}

// RequestRunlevel asks for a transition from outside the loop
func (o *Orchestrator) RequestRunlevel(ctx context.Context, name string) error {
	var err error
	if ierr := o.loop.Invoke(ctx, func() { err = o.SetRunlevel(name) }); ierr != nil {
		return ierr
	}
	return err
}

// Runlevel returns the name of the current or target run level
func (o *Orchestrator) Runlevel() string {
	return o.runlevel
}

// State returns the current state
func (o *Orchestrator) State() State {
	return o.state
}

// Graph returns the last resolved graph, nil before the first resolve
func (o *Orchestrator) Graph() *Graph {
	return o.graph
}

// Diagnostics returns the diagnostics of the last resolve
func (o *Orchestrator) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), o.resolveDiags...)
}

// Status returns a snapshot of the orchestrator
func (o *Orchestrator) Status() Status {
	s := Status{
		Runlevel:     o.runlevel,
		State:        o.state,
		TransitionID: o.transitionID,
		Queue:        append([]Action(nil), o.queue...),
		Jobs:         make(map[string][]PIDPair, len(o.jobs)),
	}
	for name, j := range o.jobs {
		s.Jobs[name] = j.Pairs()
	}
	return s
}

// Snapshot returns Status from outside the loop
func (o *Orchestrator) Snapshot(ctx context.Context) (Status, error) {
	var s Status
	err := o.loop.Invoke(ctx, func() { s = o.Status() })
	return s, err
}

// ProcessExited forwards a reaped exit status to the job tracking pid.
// It may be called from any goroutine.
func (o *Orchestrator) ProcessExited(pid int, status ExitStatus) {
	o.loop.Post(func() {
		for _, j := range o.jobs {
			if j.HandleExit(pid, status) {
				o.updateGauges()
				return
			}
		}
	})
}

// Checkpoint captures the state handed to the next incarnation
func (o *Orchestrator) Checkpoint() *Checkpoint {
	cp := &Checkpoint{Runlevel: o.runlevel, Jobs: make(map[string][]PIDPair, len(o.jobs))}
	for name, j := range o.jobs {
		cp.Jobs[name] = j.Pairs()
	}
	return cp
}

// ReloadBinary writes a checkpoint and replaces the running binary.
// It refuses while a transition is in flight and only returns on failure.
func (o *Orchestrator) ReloadBinary() error {
	if len(o.queue) > 0 || o.inFlight {
		return ErrTransitionInFlight
	}
	if o.reexec == nil || o.checkpointPath == "" {
		return &OpError{Op: OpReexec, Subject: o.checkpointPath, Err: ErrUnsupported}
	}

	if err := WriteCheckpoint(o.checkpointPath, o.Checkpoint()); err != nil {
		return err
	}
	o.log.Info("replacing binary",
		logfields.Runlevel(o.runlevel),
		logfields.Path(o.checkpointPath),
		slog.Int("jobs", len(o.jobs)))

	err := o.reexec(o.checkpointPath)
	if errors.Is(err, ErrPrivilege) {
		o.fatal(err)
	}
	_ = os.Remove(o.checkpointPath)
	return err
}

// RequestReload asks for ReloadBinary from outside the loop
func (o *Orchestrator) RequestReload(ctx context.Context) error {
	var err error
	if ierr := o.loop.Invoke(ctx, func() { err = o.ReloadBinary() }); ierr != nil {
		return ierr
	}
	return err
}

// Shutdown stops watching every job without signalling it
func (o *Orchestrator) Shutdown() {
	if o.waiter != nil {
		o.waiter.Stop()
	}
	for _, j := range o.jobs {
		j.Close()
	}
}

func (o *Orchestrator) schedule() {
	if o.scheduled {
		return
	}
	o.scheduled = true
	o.loop.Post(o.processJob)
}

func (o *Orchestrator) updateGauges() {
	procs := 0
	for _, j := range o.jobs {
		procs += len(j.PIDs())
	}
	o.recorder.SetJobs(len(o.jobs))
	o.recorder.SetTrackedProcesses(procs)
}
