package director

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ProcessInfo is one row of a process table snapshot
type ProcessInfo struct {
	PID    int
	PPID   int
	Zombie bool
	// Session is the session id, equal to PID for a session leader
	Session int
}

// ProcessTable gives read access to the live processes of the host and delivers signals
type ProcessTable interface {
	// Processes returns every process currently in the table
	Processes() ([]ProcessInfo, error)
	// Exists reports whether pid is alive and not a zombie
	Exists(pid int) bool
	// Executable returns the resolved path of the program pid is running
	Executable(pid int) (string, error)
	// Signal delivers sig to pid
	Signal(pid int, sig syscall.Signal) error
}

// ExitStatus is how the last process of a job went away.
// Code is -1 when the exit was observed without a wait status.
type ExitStatus struct {
	Code   int
	Signal syscall.Signal
}

// UnknownExit is reported when a process vanished without being reaped by us
var UnknownExit = ExitStatus{Code: -1}

// String returns a short description of the status
func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return fmt.Sprintf("killed by %s", unix.SignalName(s.Signal))
	}
	if s.Code < 0 {
		return "exited"
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// exitStatusFromWait converts a wait status collected by the reaper
func exitStatusFromWait(ws unix.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal()}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}

// ParseSignal accepts "SIGTERM", "TERM" or a signal number.
// An empty string yields SIGTERM.
func ParseSignal(s string) (syscall.Signal, error) {
	if s == "" {
		return syscall.SIGTERM, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid signal number %d", n)
		}
		return syscall.Signal(n), nil
	}
	name := s
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", s)
}
