//go:build linux

package director

import (
	"fmt"
	"syscall"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// procTable reads the process table from a procfs mount
type procTable struct {
	fs procfs.FS
}

// NewProcessTable opens the procfs mount at mountPoint (the default mount when empty)
func NewProcessTable(mountPoint string) (ProcessTable, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("opening procfs %s: %w", mountPoint, err)
	}
	return &procTable{fs: fs}, nil
}

func (t *procTable) Processes() ([]ProcessInfo, error) {
	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			// raced with exit
			continue
		}
		infos = append(infos, ProcessInfo{
			PID:     p.PID,
			PPID:    st.PPID,
			Zombie:  st.State == "Z",
			Session: st.Session,
		})
	}
	return infos, nil
}

func (t *procTable) Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := t.fs.Proc(pid)
	if err != nil {
		return false
	}
	st, err := p.Stat()
	if err != nil {
		return false
	}
	return st.State != "Z"
}

func (t *procTable) Executable(pid int) (string, error) {
	p, err := t.fs.Proc(pid)
	if err != nil {
		return "", err
	}
	return p.Executable()
}

func (t *procTable) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	return unix.Kill(pid, sig)
}
