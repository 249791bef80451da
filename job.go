package director

import (
	"log/slog"
	"sort"
	"syscall"

	"github.com/axondata/go-director/internal/logfields"
)

// PIDPair is one tracked parent/child relationship. Parent 0 is the job's synthetic root.
type PIDPair struct {
	Parent int
	Child  int
}

// Job tracks the process tree owned by one provider.
// All methods must be called on the loop.
type Job struct {
	name    string
	table   ProcessTable
	watcher ProcessWatcher
	log     *slog.Logger

	// parents maps every tracked pid to its parent, 0 being the root
	parents map[int]int
	cancels map[int]func()
	// sessions led by processes of this job; their members belong to it
	sessions map[int]struct{}
	onExit  func(status ExitStatus)
	exited  bool
}

// NewJob creates an empty job for the named provider
func NewJob(name string, table ProcessTable, watcher ProcessWatcher, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		name:    name,
		table:   table,
		watcher: watcher,
		log:     logger.With(logfields.Provider(name)),
		parents:  make(map[int]int),
		cancels:  make(map[int]func()),
		sessions: make(map[int]struct{}),
	}
}

// Name returns the provider name
func (j *Job) Name() string {
	return j.name
}

// OnExit registers fn to run once when the last tracked process is gone
func (j *Job) OnExit(fn func(status ExitStatus)) {
	j.onExit = fn
}

// Add starts tracking child under parent. The child is only adopted if it is still alive.
func (j *Job) Add(parent, child int) bool {
	if child <= 0 {
		return false
	}
	if _, ok := j.parents[child]; ok {
		return true
	}
	if !j.table.Exists(child) {
		j.log.Debug("child gone before adoption", logfields.PID(child), logfields.ParentPID(parent))
		return false
	}

	j.parents[child] = parent
	j.exited = false
	_, leader := j.sessions[child]
	j.cancels[child] = j.watcher.Watch(child, ProcessHandler{
		SessionLeader: leader,
		Forked:        j.HandleFork,
		Exited: func(pid int, status ExitStatus) {
			// the watcher drops its own entry after reporting
			delete(j.cancels, pid)
			j.HandleExit(pid, status)
		},
	})
	j.log.Debug("tracking process", logfields.PID(child), logfields.ParentPID(parent))
	return true
}

// AddSession claims the session sid for the job. Call it before adding the
// session leader; processes of the session that lose their parent are adopted
// under the root.
func (j *Job) AddSession(sid int) {
	if sid > 0 {
		j.sessions[sid] = struct{}{}
	}
}

// Sweep adopts every live, untracked member of the job's sessions and returns
// how many were added. Sessions without live members are released.
func (j *Job) Sweep() int {
	if len(j.sessions) == 0 {
		return 0
	}
	procs, err := j.table.Processes()
	if err != nil {
		j.log.Warn("session scan failed", logfields.Error(err))
		return 0
	}
	sort.Slice(procs, func(a, b int) bool { return procs[a].PID < procs[b].PID })

	live := make(map[int]bool, len(j.sessions))
	added := 0
	for _, p := range procs {
		if p.Zombie {
			continue
		}
		if _, ok := j.sessions[p.Session]; !ok {
			continue
		}
		live[p.Session] = true
		if _, tracked := j.parents[p.PID]; tracked {
			continue
		}
		parent := 0
		if _, ok := j.parents[p.PPID]; ok {
			parent = p.PPID
		}
		if j.Add(parent, p.PID) {
			j.log.Debug("adopted session member", logfields.PID(p.PID), slog.Int("session", p.Session))
			added++
		}
	}
	for sid := range j.sessions {
		if !live[sid] {
			delete(j.sessions, sid)
		}
	}
	return added
}

// Restore re-adopts pairs recorded by an earlier incarnation, skipping processes that are gone.
// Parents are restored before their children.
func (j *Job) Restore(pairs []PIDPair) int {
	pending := append([]PIDPair(nil), pairs...)
	added := 0
	for len(pending) > 0 {
		var next []PIDPair
		for _, p := range pending {
			if p.Parent != 0 {
				if _, ok := j.parents[p.Parent]; !ok && containsChild(pending, p.Parent) {
					next = append(next, p)
					continue
				}
				if _, ok := j.parents[p.Parent]; !ok {
					p.Parent = 0
				}
			}
			if j.Add(p.Parent, p.Child) {
				added++
			}
		}
		if len(next) == len(pending) {
			// a parent cycle in the record; attach the rest to the root
			for _, p := range next {
				if j.Add(0, p.Child) {
					added++
				}
			}
			break
		}
		pending = next
	}
	return added
}

func containsChild(pairs []PIDPair, pid int) bool {
	for _, p := range pairs {
		if p.Child == pid {
			return true
		}
	}
	return false
}

// HandleFork adopts a child reported for a tracked parent
func (j *Job) HandleFork(parent, child int) {
	if _, ok := j.parents[parent]; !ok {
		return
	}
	j.Add(parent, child)
}

// HandleExit drops pid, re-parents its children to the root and reports the
// job's exit once nothing is left. It returns false when pid is not tracked.
func (j *Job) HandleExit(pid int, status ExitStatus) bool {
	if _, ok := j.parents[pid]; !ok {
		return false
	}

	if cancel, ok := j.cancels[pid]; ok {
		cancel()
		delete(j.cancels, pid)
	}
	delete(j.parents, pid)

	for child, parent := range j.parents {
		if parent == pid {
			j.parents[child] = 0
		}
	}

	j.log.Debug("process exited", logfields.PID(pid), slog.String("status", status.String()))
	j.Sweep()

	if len(j.parents) == 0 && !j.exited {
		j.exited = true
		if j.onExit != nil {
			j.onExit(status)
		}
	}
	return true
}

// Tracks reports whether pid belongs to this job
func (j *Job) Tracks(pid int) bool {
	_, ok := j.parents[pid]
	return ok
}

// Empty reports whether no process is tracked
func (j *Job) Empty() bool {
	return len(j.parents) == 0
}

// PIDs returns the tracked pids in ascending order
func (j *Job) PIDs() []int {
	pids := make([]int, 0, len(j.parents))
	for pid := range j.parents {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Pairs returns the tracked relationships ordered by child pid
func (j *Job) Pairs() []PIDPair {
	pairs := make([]PIDPair, 0, len(j.parents))
	for child, parent := range j.parents {
		pairs = append(pairs, PIDPair{Parent: parent, Child: child})
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].Child < pairs[b].Child })
	return pairs
}

// Signal delivers sig to every tracked process and reports whether every delivery succeeded
func (j *Job) Signal(sig syscall.Signal) bool {
	ok := true
	for _, pid := range j.PIDs() {
		if err := j.table.Signal(pid, sig); err != nil {
			j.log.Warn("signal delivery failed",
				logfields.PID(pid),
				slog.String("signal", sig.String()),
				logfields.Error(err))
			ok = false
		}
	}
	return ok
}

// AllGone reports whether none of the tracked pids exists any more
func (j *Job) AllGone() bool {
	for pid := range j.parents {
		if j.table.Exists(pid) {
			return false
		}
	}
	return true
}

// Close stops watching every tracked process without reporting an exit
func (j *Job) Close() {
	for pid, cancel := range j.cancels {
		cancel()
		delete(j.cancels, pid)
	}
	j.onExit = nil
}
