package director

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(t *testing.T) (*Job, *fakeTable, *fakeWatcher) {
	t.Helper()
	table := newFakeTable()
	watcher := newFakeWatcher()
	return NewJob("web", table, watcher, nil), table, watcher
}

func TestJobAddRequiresLiveProcess(t *testing.T) {
	j, table, watcher := newTestJob(t)
	table.add(10, 1, "/bin/web")

	assert.Equal(t, "web", j.Name())
	assert.True(t, j.Add(0, 10))
	assert.True(t, j.Add(0, 10), "adding twice is a no-op")
	assert.False(t, j.Add(0, 11), "unknown pid is not adopted")
	assert.False(t, j.Add(0, 0))

	assert.Equal(t, []int{10}, j.PIDs())
	assert.True(t, j.Tracks(10))
	assert.False(t, j.Tracks(11))
	assert.Equal(t, 1, watcher.active())
}

func TestJobFollowsForks(t *testing.T) {
	j, table, watcher := newTestJob(t)
	table.add(10, 1, "/bin/web")
	table.add(11, 10, "/bin/web")
	table.add(12, 11, "/bin/web")
	require.True(t, j.Add(0, 10))

	watcher.fork(10, 11)
	watcher.fork(11, 12)
	// a fork reported for a pid that is not tracked is ignored
	j.HandleFork(99, 13)

	assert.Equal(t, []PIDPair{
		{Parent: 0, Child: 10},
		{Parent: 10, Child: 11},
		{Parent: 11, Child: 12},
	}, j.Pairs())
}

func TestJobReparentsOrphansToRoot(t *testing.T) {
	j, table, watcher := newTestJob(t)
	table.add(10, 1, "/bin/web")
	table.add(11, 10, "/bin/web")
	table.add(12, 10, "/bin/web")
	require.True(t, j.Add(0, 10))
	watcher.fork(10, 11)
	watcher.fork(10, 12)

	var exits []ExitStatus
	j.OnExit(func(status ExitStatus) { exits = append(exits, status) })

	watcher.exit(10, ExitStatus{Code: 0})
	assert.Equal(t, []PIDPair{
		{Parent: 0, Child: 11},
		{Parent: 0, Child: 12},
	}, j.Pairs())
	assert.Empty(t, exits)

	watcher.exit(11, ExitStatus{Code: 0})
	watcher.exit(12, ExitStatus{Signal: syscall.SIGKILL, Code: -1})
	assert.True(t, j.Empty())
	require.Len(t, exits, 1, "exit is reported once")
	assert.Equal(t, syscall.SIGKILL, exits[0].Signal)

	assert.False(t, j.HandleExit(12, UnknownExit), "unknown pid")
	assert.Len(t, exits, 1)
}

func TestJobSignal(t *testing.T) {
	j, table, _ := newTestJob(t)
	table.add(10, 1, "/bin/web")
	table.add(11, 10, "/bin/web")
	require.True(t, j.Add(0, 10))
	require.True(t, j.Add(10, 11))

	assert.True(t, j.Signal(syscall.SIGTERM))
	assert.Equal(t, []sentSignal{
		{pid: 10, sig: syscall.SIGTERM},
		{pid: 11, sig: syscall.SIGTERM},
	}, table.sent())

	table.failFor[11] = true
	assert.False(t, j.Signal(syscall.SIGHUP), "a failed delivery is reported")
}

func TestJobAllGone(t *testing.T) {
	j, table, _ := newTestJob(t)
	table.add(10, 1, "/bin/web")
	table.add(11, 10, "/bin/web")
	require.True(t, j.Add(0, 10))
	require.True(t, j.Add(10, 11))

	assert.False(t, j.AllGone())
	table.remove(10)
	assert.False(t, j.AllGone())
	table.zombie(11)
	assert.True(t, j.AllGone(), "zombies count as gone")
}

func TestJobRestore(t *testing.T) {
	j, table, _ := newTestJob(t)
	table.add(10, 1, "/bin/web")
	table.add(11, 10, "/bin/web")
	table.add(12, 11, "/bin/web")
	table.add(20, 1, "/bin/web")

	added := j.Restore([]PIDPair{
		// child listed before its parent
		{Parent: 11, Child: 12},
		{Parent: 10, Child: 11},
		{Parent: 0, Child: 10},
		// parent never recorded
		{Parent: 7, Child: 20},
		// gone
		{Parent: 0, Child: 30},
	})

	assert.Equal(t, 4, added)
	assert.Equal(t, []PIDPair{
		{Parent: 0, Child: 10},
		{Parent: 10, Child: 11},
		{Parent: 11, Child: 12},
		{Parent: 0, Child: 20},
	}, j.Pairs())
}

func TestJobRestoreDeadParent(t *testing.T) {
	j, table, _ := newTestJob(t)
	table.add(11, 1, "/bin/web")

	added := j.Restore([]PIDPair{
		{Parent: 10, Child: 11},
		{Parent: 0, Child: 10},
	})

	assert.Equal(t, 1, added)
	assert.Equal(t, []PIDPair{{Parent: 0, Child: 11}}, j.Pairs())
}

func TestJobCloseStopsWatching(t *testing.T) {
	j, table, watcher := newTestJob(t)
	table.add(10, 1, "/bin/web")
	require.True(t, j.Add(0, 10))

	called := false
	j.OnExit(func(ExitStatus) { called = true })
	j.Close()

	assert.Equal(t, 0, watcher.active())
	assert.True(t, j.HandleExit(10, UnknownExit))
	assert.False(t, called, "closed jobs do not report exits")
}

func TestJobAdoptsSessionOrphans(t *testing.T) {
	j, table, watcher := newTestJob(t)
	table.addMember(10, 1, 10, "/bin/sh")
	j.AddSession(10)
	require.True(t, j.Add(0, 10))

	h, ok := watcher.handler(10)
	require.True(t, ok)
	assert.True(t, h.SessionLeader)

	var exits []ExitStatus
	j.OnExit(func(s ExitStatus) { exits = append(exits, s) })

	// the shell backgrounds a daemon and exits before any fork was seen
	table.addMember(20, 1, 10, "/bin/daemon")
	table.addMember(21, 20, 10, "/bin/daemon")
	table.add(30, 1, "/bin/unrelated")
	table.remove(10)
	watcher.exit(10, ExitStatus{})

	assert.Empty(t, exits, "the job keeps running while its session has members")
	assert.Equal(t, []PIDPair{{Parent: 0, Child: 20}, {Parent: 20, Child: 21}}, j.Pairs())

	table.remove(21)
	watcher.exit(21, ExitStatus{})
	table.remove(20)
	watcher.exit(20, ExitStatus{Code: 2})
	require.Len(t, exits, 1)
	assert.Equal(t, ExitStatus{Code: 2}, exits[0])
}

func TestJobSweepAfterLeaderVanished(t *testing.T) {
	j, table, _ := newTestJob(t)
	table.addMember(10, 1, 10, "/bin/sh")
	table.zombie(10)
	table.addMember(20, 1, 10, "/bin/daemon")
	j.AddSession(10)

	assert.False(t, j.Add(0, 10), "a zombie leader is not tracked")
	assert.Equal(t, 1, j.Sweep())
	assert.Equal(t, []int{20}, j.PIDs())

	table.remove(20)
	table.remove(10)
	assert.Equal(t, 0, j.Sweep())
	// the released session no longer claims new members
	table.addMember(40, 1, 10, "/bin/reused")
	assert.Equal(t, 0, j.Sweep())
}
