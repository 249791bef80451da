package director

// Version is the current version of the director
const Version = "0.1.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Checkpoint is the re-exec checkpoint format understood by this build
	Checkpoint int
}

// CheckpointFormat is the revision of the field layout written by
// Checkpoint.MarshalBinary. It is reported by GetVersion and is not stored in
// the checkpoint itself.
const CheckpointFormat = 1

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:    Version,
		Checkpoint: CheckpointFormat,
	}
}
