// Package procwatch inspects a file descriptor open in another running
// process: whether it still points at the same destination, its current
// read/write offset, and the size of whatever it refers to. This is the
// machinery behind spec.md §4.10's "watch-fd"/"watch-pid" modes, grounded
// on watchpid.c's non-Apple (/proc-based) code path — the platform split
// follows the same shape as watchpid.c's own `#ifdef __APPLE__` branches,
// expressed as Go build-tagged files the way `runZeroInc-sockstats` splits
// its kernel-facing code into `_linux.go`/`_unsupported.go` pairs.
package procwatch

import "errors"

// ErrUnsupported is returned by platforms with no implementation for a
// given probe.
var ErrUnsupported = errors.New("procwatch: unsupported on this platform")

// Info mirrors the subset of struct pvwatchfd_s that the display layer
// needs: the watched process/fd pair, what it currently points at, and
// its size if known.
type Info struct {
	WatchPID int
	WatchFD  int

	LinkTarget string
	Device     uint64
	Inode      uint64
	Mode       uint32
	LinkMode   uint32
	Size       int64
}
