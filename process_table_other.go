//go:build !linux

package director

import "fmt"

// NewProcessTable is not supported on this platform
func NewProcessTable(mountPoint string) (ProcessTable, error) {
	return nil, fmt.Errorf("process table at %q: %w", mountPoint, ErrUnsupported)
}
