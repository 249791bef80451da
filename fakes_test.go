package director

import (
	"context"
	"errors"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"vawter.tech/stopper"
)

var errNoProcess = errors.New("no such process")

// fakeTable is an in-memory ProcessTable
type fakeTable struct {
	mu      sync.Mutex
	procs   map[int]ProcessInfo
	exes    map[int]string
	signals []sentSignal
	failFor map[int]bool
	// killOn removes a process when it receives this signal
	killOn syscall.Signal
}

type sentSignal struct {
	pid int
	sig syscall.Signal
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		procs:   make(map[int]ProcessInfo),
		exes:    make(map[int]string),
		failFor: make(map[int]bool),
	}
}

func (f *fakeTable) add(pid, ppid int, exe string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = ProcessInfo{PID: pid, PPID: ppid}
	f.exes[pid] = exe
}

// addMember adds pid as a member of the session led by sid
func (f *fakeTable) addMember(pid, ppid, sid int, exe string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = ProcessInfo{PID: pid, PPID: ppid, Session: sid}
	f.exes[pid] = exe
}

func (f *fakeTable) remove(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
	delete(f.exes, pid)
}

func (f *fakeTable) zombie(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.procs[pid]
	p.Zombie = true
	f.procs[pid] = p
}

func (f *fakeTable) sent() []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSignal(nil), f.signals...)
}

func (f *fakeTable) Processes() ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ProcessInfo, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PID < out[b].PID })
	return out, nil
}

func (f *fakeTable) Exists(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	return ok && !p.Zombie
}

func (f *fakeTable) Executable(pid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exe, ok := f.exes[pid]
	if !ok {
		return "", errNoProcess
	}
	return exe, nil
}

func (f *fakeTable) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sentSignal{pid: pid, sig: sig})
	if f.failFor[pid] {
		return errNoProcess
	}
	if _, ok := f.procs[pid]; !ok {
		return errNoProcess
	}
	if f.killOn != 0 && sig == f.killOn {
		delete(f.procs, pid)
	}
	return nil
}

// fakeWatcher records watches and lets tests deliver notifications.
// Deliveries must happen where the Job lives (the loop, or the test goroutine
// when no loop is used).
type fakeWatcher struct {
	mu       sync.Mutex
	handlers map[int]ProcessHandler
	watched  []int
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{handlers: make(map[int]ProcessHandler)}
}

func (w *fakeWatcher) Watch(pid int, h ProcessHandler) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[pid] = h
	w.watched = append(w.watched, pid)
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.handlers, pid)
	}
}

func (w *fakeWatcher) handler(pid int) (ProcessHandler, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, ok := w.handlers[pid]
	return h, ok
}

func (w *fakeWatcher) fork(parent, child int) {
	if h, ok := w.handler(parent); ok && h.Forked != nil {
		h.Forked(parent, child)
	}
}

func (w *fakeWatcher) exit(pid int, status ExitStatus) {
	h, ok := w.handler(pid)
	if !ok {
		return
	}
	w.mu.Lock()
	delete(w.handlers, pid)
	w.mu.Unlock()
	if h.Exited != nil {
		h.Exited(pid, status)
	}
}

func (w *fakeWatcher) active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handlers)
}

// fakeServices is an in-memory ServiceChecker
type fakeServices struct {
	mu  sync.Mutex
	set map[string]bool
}

func newFakeServices() *fakeServices {
	return &fakeServices{set: make(map[string]bool)}
}

func (s *fakeServices) publish(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.set[n] = true
	}
}

func (s *fakeServices) withdraw(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		delete(s.set, n)
	}
}

func (s *fakeServices) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set[name]
}

// fakeSpawner adds a process to the fake table for every spawn
type fakeSpawner struct {
	mu      sync.Mutex
	table   *fakeTable
	next    int
	specs   []SpawnSpec
	err     error
	onSpawn func(spec SpawnSpec, pid int)
}

func newFakeSpawner(table *fakeTable) *fakeSpawner {
	return &fakeSpawner{table: table, next: 1000}
}

func (s *fakeSpawner) Spawn(spec SpawnSpec) (int, error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return 0, s.err
	}
	s.next++
	pid := s.next
	s.specs = append(s.specs, spec)
	hook := s.onSpawn
	s.mu.Unlock()

	s.table.add(pid, 1, spec.Executable)
	if hook != nil {
		hook(spec, pid)
	}
	return pid, nil
}

func (s *fakeSpawner) spawned() []SpawnSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SpawnSpec(nil), s.specs...)
}

// startLoop runs a loop on a fake clock for the duration of the test
func startLoop(t *testing.T) (*Loop, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	loop := NewLoop(clock)
	sctx := stopper.WithContext(context.Background())
	loop.Start(sctx)
	t.Cleanup(func() {
		sctx.Stop(time.Second)
		_ = sctx.Wait()
	})
	return loop, clock
}

// onLoop runs fn on the loop and waits for it
func onLoop(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, loop.Invoke(ctx, fn))
}

// advance waits until n timers are armed and moves the clock forward by d
func advance(t *testing.T, clock *clockwork.FakeClock, n int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
	clock.Advance(d)
}
