//go:build linux

// Package unix provides platform-specific process helpers.
package unix

import xunix "golang.org/x/sys/unix"

// SetChildSubreaper makes the calling process adopt orphaned descendants,
// so their exit statuses are delivered to it instead of pid 1.
func SetChildSubreaper() error {
	return xunix.Prctl(xunix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

// IsInit reports whether the calling process runs as pid 1
func IsInit() bool {
	return xunix.Getpid() == 1
}
