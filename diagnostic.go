package director

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/axondata/go-director/internal/logfields"
)

// Problem classifies a diagnostic
type Problem int

const (
	// ProblemUnknown is the zero value
	ProblemUnknown Problem = iota
	// ProblemUnresolvedAlias is a run-level name that does not resolve
	ProblemUnresolvedAlias
	// ProblemUnresolvedService is a dependency on a service nobody provides
	ProblemUnresolvedService
	// ProblemUnresolvedProvider is a dependency on a provider that is not configured
	ProblemUnresolvedProvider
	// ProblemCircular is a provider on a cycle of mandatory dependencies
	ProblemCircular
	// ProblemUnmetRequirement is a provider that could not join a run level's order
	ProblemUnmetRequirement
	// ProblemMissingConfig is an action for a provider with no configuration
	ProblemMissingConfig
	// ProblemPrecondition is a start whose requirements do not currently hold
	ProblemPrecondition
	// ProblemSpawn is a provider process that could not be started
	ProblemSpawn
	// ProblemSignal is a signal that could not be delivered to every tracked process
	ProblemSignal
	// ProblemTimeout is a start or stop that was not confirmed in time
	ProblemTimeout
)

// Problem string constants
const (
	problemUnknownStr            = "unknown"
	problemUnresolvedAliasStr    = "unresolved-alias"
	problemUnresolvedServiceStr  = "unresolved-service"
	problemUnresolvedProviderStr = "unresolved-provider"
	problemCircularStr           = "circular"
	problemUnmetRequirementStr   = "unmet-requirement"
	problemMissingConfigStr      = "missing-config"
	problemPreconditionStr       = "precondition"
	problemSpawnStr              = "spawn"
	problemSignalStr             = "signal"
	problemTimeoutStr            = "timeout"
)

// String returns the string representation of a Problem
func (p Problem) String() string {
	switch p {
	case ProblemUnresolvedAlias:
		return problemUnresolvedAliasStr
	case ProblemUnresolvedService:
		return problemUnresolvedServiceStr
	case ProblemUnresolvedProvider:
		return problemUnresolvedProviderStr
	case ProblemCircular:
		return problemCircularStr
	case ProblemUnmetRequirement:
		return problemUnmetRequirementStr
	case ProblemMissingConfig:
		return problemMissingConfigStr
	case ProblemPrecondition:
		return problemPreconditionStr
	case ProblemSpawn:
		return problemSpawnStr
	case ProblemSignal:
		return problemSignalStr
	case ProblemTimeout:
		return problemTimeoutStr
	default:
		return problemUnknownStr
	}
}

// Diagnostic is a non-fatal problem found while resolving or running jobs
type Diagnostic struct {
	// Context is the provider (or "settings") the problem belongs to
	Context string
	// Field is the configuration key that caused it
	Field string
	// Problem classifies the diagnostic
	Problem Problem
	// Detail is a human readable explanation
	Detail string
}

// String formats the diagnostic for operators
func (d Diagnostic) String() string {
	if d.Detail == "" {
		return fmt.Sprintf("%s %s: %s", d.Context, d.Field, d.Problem)
	}
	return fmt.Sprintf("%s %s: %s: %s", d.Context, d.Field, d.Problem, d.Detail)
}

// LogAttrs returns the diagnostic as structured log attributes
func (d Diagnostic) LogAttrs() []slog.Attr {
	return []slog.Attr{
		logfields.Provider(d.Context),
		logfields.Field(d.Field),
		logfields.Problem(d.Problem.String()),
		slog.String("detail", d.Detail),
	}
}

// DiagnosticQueue accumulates diagnostics until drained.
// It is safe for concurrent use.
type DiagnosticQueue struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Push appends a diagnostic
func (q *DiagnosticQueue) Push(d Diagnostic) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
}

// Len returns the number of queued diagnostics
func (q *DiagnosticQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued diagnostic
func (q *DiagnosticQueue) Drain() []Diagnostic {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
