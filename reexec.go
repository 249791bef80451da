package director

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// CheckpointFlag is the command-line flag carrying the checkpoint path to the new binary
const CheckpointFlag = "--checkpoint"

// Privileges are the effective ids the daemon started with
type Privileges struct {
	UID int
	GID int
}

// CurrentPrivileges returns the effective uid and gid of the process
func CurrentPrivileges() Privileges {
	return Privileges{UID: unix.Geteuid(), GID: unix.Getegid()}
}

// Restore switches the effective ids back to p. The uid is restored first
// because changing the group needs the privileged uid.
func (p Privileges) Restore() error {
	if unix.Geteuid() != p.UID {
		if err := unix.Setreuid(-1, p.UID); err != nil {
			return fmt.Errorf("%w: setreuid -1 %d: %v", ErrPrivilege, p.UID, err)
		}
	}
	if unix.Getegid() != p.GID {
		if err := unix.Setregid(-1, p.GID); err != nil {
			return fmt.Errorf("%w: setregid -1 %d: %v", ErrPrivilege, p.GID, err)
		}
	}
	return nil
}

// ReexecFunc replaces the running binary, handing it the checkpoint at path.
// It only returns on failure.
type ReexecFunc func(path string) error

// Reexec returns a ReexecFunc that restores priv and then executes the current
// binary with its original arguments plus CheckpointFlag.
func Reexec(priv Privileges) ReexecFunc {
	return func(path string) error {
		if err := priv.Restore(); err != nil {
			return &OpError{Op: OpReexec, Subject: path, Err: err}
		}

		exe, err := os.Executable()
		if err != nil {
			return &OpError{Op: OpReexec, Subject: path, Err: err}
		}

		argv := ReexecArgs(os.Args, path)
		if err := unix.Exec(exe, argv, os.Environ()); err != nil {
			return &OpError{Op: OpReexec, Subject: exe, Err: err}
		}
		return nil
	}
}

// ReexecArgs replaces any checkpoint flag in args with one naming path
func ReexecArgs(args []string, path string) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == CheckpointFlag {
			i++
			continue
		}
		if strings.HasPrefix(a, CheckpointFlag+"=") {
			continue
		}
		out = append(out, a)
	}
	return append(out, CheckpointFlag, path)
}
