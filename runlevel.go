package director

import (
	"sort"
	"strconv"
	"strings"
)

// Runlevel identifies a target system state. Non-negative values are ordinary
// run levels, negative values are reserved.
type Runlevel int

// Reserved run levels
const (
	RunlevelBootstrap Runlevel = -1
	RunlevelReboot    Runlevel = -2
	RunlevelHalt      Runlevel = -3
	RunlevelPoweroff  Runlevel = -4
)

// MaxRunlevel is the highest numeric run level
const MaxRunlevel Runlevel = 255

// Reserved run-level names
const (
	runlevelBootstrapStr = "bootstrap"
	runlevelRebootStr    = "reboot"
	runlevelHaltStr      = "halt"
	runlevelPoweroffStr  = "poweroff"
)

// String returns the canonical name of the run level
func (r Runlevel) String() string {
	switch r {
	case RunlevelBootstrap:
		return runlevelBootstrapStr
	case RunlevelReboot:
		return runlevelRebootStr
	case RunlevelHalt:
		return runlevelHaltStr
	case RunlevelPoweroff:
		return runlevelPoweroffStr
	default:
		return strconv.Itoa(int(r))
	}
}

// Reserved reports whether r is one of the negative reserved run levels
func (r Runlevel) Reserved() bool {
	return r < 0
}

// RunlevelTable maps run-level names to run levels
type RunlevelTable struct {
	aliases map[string]Runlevel
}

// NewRunlevelTable builds the alias table from the /Runlevels/<alias> entries of the
// general settings. Numeric names 0..255 and the reserved names always resolve.
// An alias may refer to another alias once; anything deeper or unknown is dropped
// with a diagnostic.
func NewRunlevelTable(settings map[string]string) (*RunlevelTable, []Diagnostic) {
	t := &RunlevelTable{aliases: make(map[string]Runlevel)}
	for _, r := range []Runlevel{RunlevelBootstrap, RunlevelReboot, RunlevelHalt, RunlevelPoweroff} {
		t.aliases[r.String()] = r
	}
	for i := Runlevel(0); i <= MaxRunlevel; i++ {
		t.aliases[i.String()] = i
	}

	declared := make(map[string]string)
	var names []string
	for key, value := range settings {
		if !strings.HasPrefix(key, RunlevelsPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, RunlevelsPrefix)
		if name == "" {
			continue
		}
		declared[name] = strings.TrimSpace(value)
		names = append(names, name)
	}
	sort.Strings(names)

	var diags []Diagnostic
	for _, name := range names {
		if _, builtin := t.aliases[name]; builtin {
			continue
		}
		target := declared[name]
		if r, ok := t.builtin(target); ok {
			t.aliases[name] = r
			continue
		}
		// one level of indirection through another declared alias
		if next, ok := declared[target]; ok && target != name {
			if r, ok := t.builtin(next); ok {
				t.aliases[name] = r
				continue
			}
		}
		diags = append(diags, Diagnostic{
			Context: SettingsName,
			Field:   RunlevelsPrefix + name,
			Problem: ProblemUnresolvedAlias,
			Detail:  "run level alias " + strconv.Quote(name) + " refers to unknown " + strconv.Quote(target),
		})
	}
	return t, diags
}

func (t *RunlevelTable) builtin(name string) (Runlevel, bool) {
	switch name {
	case runlevelBootstrapStr:
		return RunlevelBootstrap, true
	case runlevelRebootStr:
		return RunlevelReboot, true
	case runlevelHaltStr:
		return RunlevelHalt, true
	case runlevelPoweroffStr:
		return RunlevelPoweroff, true
	}
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 || n > int(MaxRunlevel) {
		return 0, false
	}
	return Runlevel(n), true
}

// Resolve returns the run level a name refers to
func (t *RunlevelTable) Resolve(name string) (Runlevel, bool) {
	r, ok := t.aliases[strings.TrimSpace(name)]
	return r, ok
}

// Aliases returns the non-numeric names in sorted order
func (t *RunlevelTable) Aliases() []string {
	var names []string
	for name := range t.aliases {
		if _, err := strconv.Atoi(name); err == nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
