//go:build linux

package procwatch

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Probe populates info from the live state of pid's fd, the way
// pv_watchfd_info does: liveness check, readlink on /proc/<pid>/fd/<fd>,
// stat+lstat for identity, and size for block devices/regular files.
func Probe(pid, fd int) (Info, error) {
	info := Info{WatchPID: pid, WatchFD: fd}

	if err := unix.Kill(pid, 0); err != nil {
		return info, fmt.Errorf("pid %d: %w", pid, err)
	}

	fdPath := fmt.Sprintf("/proc/%d/fd/%d", pid, fd)
	target, err := os.Readlink(fdPath)
	if err != nil {
		return info, fmt.Errorf("pid %d fd %d: %w", pid, fd, err)
	}
	info.LinkTarget = target

	var st, lst unix.Stat_t
	if err := unix.Stat(fdPath, &st); err != nil {
		return info, fmt.Errorf("pid %d fd %d: %w", pid, fd, err)
	}
	if err := unix.Lstat(fdPath, &lst); err != nil {
		return info, fmt.Errorf("pid %d fd %d: %w", pid, fd, err)
	}
	info.Device = st.Dev
	info.Inode = st.Ino
	info.Mode = st.Mode
	info.LinkMode = lst.Mode

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		info.Size = blockDeviceSize(fdPath)
	case unix.S_IFREG:
		info.Size = st.Size
	default:
		return info, fmt.Errorf("pid %d fd %d: %w", pid, fd, ErrUnsupported)
	}

	return info, nil
}

func blockDeviceSize(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	var check unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &check); err != nil || check.Mode&unix.S_IFMT != unix.S_IFBLK {
		return 0
	}
	pos, err := f.Seek(0, 2)
	if err != nil {
		return 0
	}
	return pos
}

// Changed reports whether the fd now points somewhere different, or has a
// different permission mode, than the identity captured in info — per
// pv_watchfd_changed.
func Changed(info Info) bool {
	fdPath := fmt.Sprintf("/proc/%d/fd/%d", info.WatchPID, info.WatchFD)
	var st, lst unix.Stat_t
	if err := unix.Stat(fdPath, &st); err != nil {
		return true
	}
	if err := unix.Lstat(fdPath, &lst); err != nil {
		return true
	}
	return st.Dev != info.Device || st.Ino != info.Inode || lst.Mode != info.LinkMode
}

// Position reads the current file offset of pid's fd from
// /proc/<pid>/fdinfo/<fd>'s "pos:" line, or -1 if the fd has closed or
// changed identity since Probe was called — per pv_watchfd_position.
func Position(info Info) int64 {
	if Changed(info) {
		return -1
	}

	f, err := os.Open(fmt.Sprintf("/proc/%d/fdinfo/%d", info.WatchPID, info.WatchFD))
	if err != nil {
		return -1
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "pos:"); ok {
			pos, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
			if err != nil {
				return -1
			}
			return pos
		}
	}
	return -1
}

// ListFDs returns the fd numbers currently open in pid, by reading the
// entries of /proc/<pid>/fd — per pv_watchpid_scanfds's directory scan.
func ListFDs(pid int) ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		return nil, err
	}
	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

// Alive reports whether pid currently exists.
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
