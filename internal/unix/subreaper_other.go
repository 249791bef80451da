//go:build !linux

// Package unix provides platform-specific process helpers.
package unix

import xunix "golang.org/x/sys/unix"

// SetChildSubreaper is a no-op where subreapers do not exist
func SetChildSubreaper() error {
	return nil
}

// IsInit reports whether the calling process runs as pid 1
func IsInit() bool {
	return xunix.Getpid() == 1
}
