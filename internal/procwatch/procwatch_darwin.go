//go:build darwin

package procwatch

import "golang.org/x/sys/unix"

// Probe is unsupported on darwin: the original gets this information via
// libproc's proc_pidfdinfo(2), a cgo-only API with no pure-Go binding in
// the dependency pack, and cgo is unavailable here since nothing in this
// build ever invokes the Go toolchain.
func Probe(pid, fd int) (Info, error) {
	return Info{WatchPID: pid, WatchFD: fd}, ErrUnsupported
}

// Changed always reports true on darwin, matching watchpid.c's own
// __APPLE__ stub for pv_watchfd_changed.
func Changed(info Info) bool { return true }

// Position is unsupported on darwin for the same reason as Probe.
func Position(info Info) int64 { return -1 }

// ListFDs is unsupported on darwin for the same reason as Probe.
func ListFDs(pid int) ([]int, error) {
	return nil, ErrUnsupported
}

// Alive reports whether pid currently exists.
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
