package director

import (
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/axondata/go-director/internal/logfields"
)

// ProcessHandler receives fork and exit notifications for one watched pid.
// Handlers run on the loop.
type ProcessHandler struct {
	// Forked is called once for every child of the watched pid
	Forked func(parent, child int)
	// Exited is called once when the watched pid is gone
	Exited func(pid int, status ExitStatus)
	// SessionLeader also reports members of the session led by the watched pid
	// whose parent is not watched, such as daemons orphaned by a quick exit
	SessionLeader bool
}

// ProcessWatcher yields fork and exit notifications for individual pids
type ProcessWatcher interface {
	// Watch starts delivering notifications for pid until cancel is called or it exits
	Watch(pid int, h ProcessHandler) (cancel func())
}

type watchEntry struct {
	handler ProcessHandler
	seen    map[int]struct{}
}

// PollingWatcher detects forks and exits by probing a ProcessTable on a fixed interval.
// A single timer serves every watched pid; it only runs while something is watched.
type PollingWatcher struct {
	loop     *Loop
	table    ProcessTable
	interval time.Duration
	log      *slog.Logger

	watches map[int]*watchEntry
	timer   clockwork.Timer
}

// NewPollingWatcher creates a watcher that polls table every interval on loop
func NewPollingWatcher(loop *Loop, table ProcessTable, interval time.Duration, logger *slog.Logger) *PollingWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollingWatcher{
		loop:     loop,
		table:    table,
		interval: interval,
		log:      logger,
		watches:  make(map[int]*watchEntry),
	}
}

// Watch must be called on the loop
func (w *PollingWatcher) Watch(pid int, h ProcessHandler) func() {
	entry := &watchEntry{handler: h, seen: make(map[int]struct{})}
	w.watches[pid] = entry
	w.ensureTimer()

	return func() {
		if w.watches[pid] == entry {
			delete(w.watches, pid)
		}
	}
}

// Watching returns the number of watched pids
func (w *PollingWatcher) Watching() int {
	return len(w.watches)
}

func (w *PollingWatcher) ensureTimer() {
	if w.timer != nil {
		return
	}
	w.timer = w.loop.AfterFunc(w.interval, w.poll)
}

func (w *PollingWatcher) poll() {
	w.timer = nil
	if len(w.watches) == 0 {
		return
	}

	procs, err := w.table.Processes()
	if err != nil {
		w.log.Warn("process table scan failed", logfields.Error(err))
		w.ensureTimer()
		return
	}

	// zombies stay alive until reaped so the reaper delivers their real status
	alive := make(map[int]bool, len(procs))
	parent := make(map[int]int, len(procs))
	children := make(map[int][]int)
	members := make(map[int][]int)
	for _, p := range procs {
		alive[p.PID] = true
		if p.Zombie {
			continue
		}
		parent[p.PID] = p.PPID
		children[p.PPID] = append(children[p.PPID], p.PID)
		if p.Session > 0 && p.Session != p.PID {
			members[p.Session] = append(members[p.Session], p.PID)
		}
	}

	pids := make([]int, 0, len(w.watches))
	for pid := range w.watches {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	for _, pid := range pids {
		// an earlier handler in this pass may have cancelled the watch
		entry, ok := w.watches[pid]
		if !ok {
			continue
		}

		kids := append([]int(nil), children[pid]...)
		if entry.handler.SessionLeader {
			for _, m := range members[pid] {
				if _, watched := w.watches[m]; watched {
					continue
				}
				if pp := parent[m]; pp != pid && alive[pp] && w.watches[pp] != nil {
					continue
				}
				kids = append(kids, m)
			}
		}
		sort.Ints(kids)
		for _, child := range kids {
			if _, seen := entry.seen[child]; seen {
				continue
			}
			entry.seen[child] = struct{}{}
			if entry.handler.Forked != nil {
				entry.handler.Forked(pid, child)
			}
		}

		// forks are reported first so orphans of an exiting leader are adopted
		if !alive[pid] && w.watches[pid] == entry {
			delete(w.watches, pid)
			if entry.handler.Exited != nil {
				entry.handler.Exited(pid, UnknownExit)
			}
		}
	}

	w.ensureTimer()
}
