package director

import (
	"os"
	"time"
)

// Provider configuration keys
const (
	// KeyExecutable is the absolute path of the provider's program
	KeyExecutable = "/Process/Executable"
	// KeyArguments holds whitespace separated program arguments
	KeyArguments = "/Process/Arguments"
	// KeyEnvironmentFile names a dotenv file merged into the process environment
	KeyEnvironmentFile = "/Process/EnvironmentFile"
	// KeyProvidedServices is the comma list of services the provider publishes
	KeyProvidedServices = "/Process/ProvidedServices"
	// KeyStartTimeout bounds the wait for provided services to appear
	KeyStartTimeout = "/Process/StartTimeout"

	// KeyExitSignal is the signal delivered on stop
	KeyExitSignal = "/Exiting/Signal"
	// KeyExitTimeout bounds the wait for a provider to go away
	KeyExitTimeout = "/Exiting/Timeout"
	// KeyExitWaitType selects how exit is confirmed
	KeyExitWaitType = "/Exiting/ExitWaitType"

	// KeyInitialRunlevel names the run level entered after bootstrap
	KeyInitialRunlevel = "/Settings/InitialRunlevel"
)

// Key prefixes
const (
	// RequirementsPrefix precedes mandatory dependency lists
	RequirementsPrefix = "/Requirements"
	// EnhancementsPrefix precedes optional dependency lists
	EnhancementsPrefix = "/Enhancements"
	// RunlevelsPrefix precedes run-level alias settings
	RunlevelsPrefix = "/Runlevels/"
	// EnvironmentPrefix precedes environment variables passed to a provider
	EnvironmentPrefix = "/Environment/"
)

// Dependency list names, appended to RequirementsPrefix or EnhancementsPrefix
const (
	FieldActiveServices    = "/ActiveServices"
	FieldInactiveServices  = "/InactiveServices"
	FieldActiveProviders   = "/ActiveProviders"
	FieldInactiveProviders = "/InactiveProviders"
	FieldStartOnRunLevels  = "/StartOnRunLevels"
	FieldStopOnRunLevels   = "/StopOnRunLevels"
)

// SettingsName is the config name under which general settings are published
const SettingsName = "director"

// ListDelim separates entries of list-valued keys
const ListDelim = ','

// Timing defaults
const (
	// DefaultStartTimeout is used when a provider declares no (or a zero) start timeout
	DefaultStartTimeout = 20 * time.Second

	// DefaultExitTimeout is used when a provider declares no (or a zero) exit timeout
	DefaultExitTimeout = 10 * time.Second

	// DefaultPollInterval is how often watched processes are probed for forks and exits
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultConfigDebounce coalesces bursts of configuration file events
	DefaultConfigDebounce = 500 * time.Millisecond

	// DefaultServiceDir is where published services appear
	DefaultServiceDir = "/svc"

	// DefaultStateDir holds re-exec checkpoints
	DefaultStateDir = "/run/director"
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// CheckpointMode is the mode of checkpoint files
	CheckpointMode os.FileMode = 0o600
)

// ExitWaitType selects the strategy used to confirm a provider has stopped
type ExitWaitType int

const (
	// ExitProcessTermination waits until every tracked process is gone
	ExitProcessTermination ExitWaitType = iota
	// ExitAssumeExit sends the signal and considers the provider stopped
	ExitAssumeExit
	// ExitHaltServices waits until the provided services disappear
	ExitHaltServices
)

// ExitWaitType string constants
const (
	exitProcessTerminationStr = "ProcessTermination"
	exitAssumeExitStr         = "AssumeExit"
	exitHaltServicesStr       = "HaltServices"
)

// String returns the configuration spelling of the wait type
func (t ExitWaitType) String() string {
	switch t {
	case ExitAssumeExit:
		return exitAssumeExitStr
	case ExitHaltServices:
		return exitHaltServicesStr
	case ExitProcessTermination:
		fallthrough
	default:
		return exitProcessTerminationStr
	}
}

// ParseExitWaitType maps a configuration value to a wait type.
// Unknown or empty values select ExitProcessTermination.
func ParseExitWaitType(s string) ExitWaitType {
	switch s {
	case exitAssumeExitStr:
		return ExitAssumeExit
	case exitHaltServicesStr, "HaltService":
		return ExitHaltServices
	default:
		return ExitProcessTermination
	}
}

// Operation identifies the operation an OpError came from
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpLoadConfig reads configuration files
	OpLoadConfig
	// OpSpawn starts a provider process
	OpSpawn
	// OpCheckpoint writes or reads the re-exec checkpoint
	OpCheckpoint
	// OpReexec replaces the running binary
	OpReexec
	// OpReap collects child exit statuses
	OpReap
	// OpCheckService reads the state of a published service
	OpCheckService
)

// Operation string constants
const (
	opUnknownStr    = "unknown"
	opLoadConfigStr = "load-config"
	opSpawnStr      = "spawn"
	opCheckpointStr = "checkpoint"
	opReexecStr     = "reexec"
	opReapStr       = "reap"
	opCheckSvcStr   = "check-service"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpLoadConfig:
		return opLoadConfigStr
	case OpSpawn:
		return opSpawnStr
	case OpCheckpoint:
		return opCheckpointStr
	case OpReexec:
		return opReexecStr
	case OpReap:
		return opReapStr
	case OpCheckService:
		return opCheckSvcStr
	default:
		return opUnknownStr
	}
}
