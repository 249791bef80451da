// Package logfields holds the canonical slog attribute keys used across the director.
package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProvider     = "provider"
	KeyRunlevel     = "runlevel"
	KeyPID          = "pid"
	KeyParentPID    = "parent_pid"
	KeyTransitionID = "transition_id"
	KeyAction       = "action"
	KeyField        = "field"
	KeyProblem      = "problem"
	KeyPath         = "path"
	KeyState        = "state"
	KeyError        = "error"
)

func Provider(name string) slog.Attr   { return slog.String(KeyProvider, name) }
func Runlevel(name string) slog.Attr   { return slog.String(KeyRunlevel, name) }
func PID(pid int) slog.Attr            { return slog.Int(KeyPID, pid) }
func ParentPID(pid int) slog.Attr      { return slog.Int(KeyParentPID, pid) }
func TransitionID(id string) slog.Attr { return slog.String(KeyTransitionID, id) }
func Action(a string) slog.Attr        { return slog.String(KeyAction, a) }
func Field(f string) slog.Attr         { return slog.String(KeyField, f) }
func Problem(p string) slog.Attr       { return slog.String(KeyProblem, p) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func State(s string) slog.Attr         { return slog.String(KeyState, s) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
