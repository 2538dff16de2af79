// Package cursor implements the multi-instance cursor-positioning
// coordinator described in spec.md §4.8: when several "pv -c" processes
// share one pipeline, each needs its own screen row so their progress
// bars don't overwrite one another. A SysV shared memory segment, keyed
// off the controlling terminal, holds the topmost row the first attached
// process claimed; later processes read it to compute their own offset.
package cursor

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// sharedState is the fixed-layout record stored in the shared memory
// segment, mirroring struct pvcursorstate_s in cursor.c.
type sharedState struct {
	YTopmost        int32
	TTYTostopAdded  uint8
	_               [3]byte
}

const sharedStateSize = 8

// Coordinator holds one process's view of the shared cursor state for a
// single controlling terminal.
type Coordinator struct {
	mu sync.Mutex

	enabled  bool
	noIPC    bool
	termFD   int
	termFile *os.File

	shmID   int
	shared  []byte
	lockFD  int
	lockPath string

	YStart    int
	YOffset   int
	YLastRead int
	PVCount   int
	PVMax     int
	NeedReinit int
}

// New attaches (creating if necessary) the shared-memory segment for the
// terminal behind stderr, serialising access with a per-euid flock-based
// lockfile. If IPC is unavailable it falls back to the lockfile alone, as
// pv_crs_open_lockfile/pv_crs_ipcinit do, and disables itself when no
// start row can be read. If the terminal behind stderr cannot be identified
// (via /proc/self/fd), New returns an error.
func New() (*Coordinator, error) {
	c := &Coordinator{lockFD: -1}

	ttyPath, err := ttyPathFor(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("cursor: terminal name: %w", err)
	}

	f, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("cursor: open terminal: %w", err)
	}
	c.termFile = f
	c.termFD = int(f.Fd())

	c.lockPath = lockFilePath(ttyPath)

	if err := c.ipcInit(ttyPath); err != nil {
		c.noIPC = true
	}

	if c.noIPC {
		c.lock()
		c.YStart = c.readYPos()
		if c.YStart > 0 {
			os.Stderr.WriteString("\n")
		}
		c.unlock()
		if c.YStart < 1 {
			c.enabled = false
			return c, nil
		}
	}

	c.enabled = true
	return c, nil
}

func ttyPathFor(f *os.File) (string, error) {
	link := fmt.Sprintf("/proc/self/fd/%d", f.Fd())
	if target, err := os.Readlink(link); err == nil {
		return target, nil
	}
	return "", fmt.Errorf("ttyname unavailable for fd %d", f.Fd())
}

func lockFilePath(ttyPath string) string {
	base := ttyPath
	for i := len(ttyPath) - 1; i >= 0; i-- {
		if ttyPath[i] == '/' {
			base = ttyPath[i+1:]
			break
		}
	}
	return fmt.Sprintf("/tmp/pv-%s-%d.lock", base, os.Geteuid())
}

// ftokKey derives an IPC key from the tty's device/inode the way ftok(3)
// does, scoped by a project id so it never collides with an unrelated
// shmget caller using the same file.
func ftokKey(path string, projectID byte) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	key := (int(st.Ino) & 0xffff) | ((int(st.Dev) & 0xff) << 16) | (int(projectID) << 24)
	return key, nil
}

func (c *Coordinator) ipcInit(ttyPath string) error {
	key, err := ftokKey(ttyPath, 'p')
	if err != nil {
		return err
	}

	c.lock()
	defer c.unlock()

	id, err := unix.SysvShmGet(key, sharedStateSize, unix.IPC_CREAT|0600)
	if err != nil {
		return err
	}
	c.shmID = id

	seg, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return err
	}
	c.shared = seg

	c.refreshCount()

	if c.PVCount < 2 {
		c.YStart = c.readYPos()
		c.setTopmost(c.YStart)
		c.setTOSTOPAdded(false)
		c.YLastRead = c.YStart
	}

	c.YOffset = c.PVCount - 1
	if c.YOffset < 0 {
		c.YOffset = 0
	}

	if c.PVCount > 1 {
		c.YStart = c.topmost()
		c.YLastRead = c.YStart
	}

	return nil
}

func (c *Coordinator) topmost() int {
	if len(c.shared) < 4 {
		return 0
	}
	return int(int32(uint32(c.shared[0]) | uint32(c.shared[1])<<8 | uint32(c.shared[2])<<16 | uint32(c.shared[3])<<24))
}

func (c *Coordinator) setTopmost(y int) {
	if len(c.shared) < 4 {
		return
	}
	v := uint32(int32(y))
	c.shared[0] = byte(v)
	c.shared[1] = byte(v >> 8)
	c.shared[2] = byte(v >> 16)
	c.shared[3] = byte(v >> 24)
}

func (c *Coordinator) tostopAdded() bool {
	return len(c.shared) > 4 && c.shared[4] != 0
}

func (c *Coordinator) setTOSTOPAdded(v bool) {
	if len(c.shared) <= 4 {
		return
	}
	if v {
		c.shared[4] = 1
	} else {
		c.shared[4] = 0
	}
}

func (c *Coordinator) refreshCount() {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(c.shmID, unix.IPC_STAT, &desc); err == nil {
		c.PVCount = int(desc.Nattch)
		if c.PVCount > c.PVMax {
			c.PVMax = c.PVCount
		}
	}
}

func (c *Coordinator) lock() {
	c.mu.Lock()
	if c.lockFD < 0 {
		fd, err := unix.Open(c.lockPath, unix.O_RDWR|unix.O_CREAT, 0600)
		if err == nil {
			c.lockFD = fd
		}
	}
	if c.lockFD >= 0 {
		_ = unix.Flock(c.lockFD, unix.LOCK_EX)
	}
}

func (c *Coordinator) unlock() {
	if c.lockFD >= 0 {
		_ = unix.Flock(c.lockFD, unix.LOCK_UN)
	}
	c.mu.Unlock()
}

// readYPos probes the terminal's current cursor row using the ECMA-48 CPR
// (cursor position report) escape sequence, toggling raw mode around the
// write/read the way pv_crs_get_ypos toggles ICANON/ECHO.
func (c *Coordinator) readYPos() int {
	oldState, err := term.MakeRaw(c.termFD)
	if err != nil {
		return 0
	}
	defer term.Restore(c.termFD, oldState)

	if _, err := unix.Write(c.termFD, []byte("\033[6n")); err != nil {
		return 0
	}

	buf := make([]byte, 32)
	n, err := unix.Read(c.termFD, buf)
	if err != nil || n == 0 {
		return 0
	}

	return parseCPR(buf[:n])
}

// parseCPR extracts the row from a "\033[<row>;<col>R" response.
func parseCPR(buf []byte) int {
	i := 0
	for i < len(buf) && buf[i] != '[' {
		i++
	}
	i++
	row := 0
	for i < len(buf) && buf[i] >= '0' && buf[i] <= '9' {
		row = row*10 + int(buf[i]-'0')
		i++
	}
	return row
}

// NeedsReinit marks the coordinator for full reinitialisation, per
// pv_crs_needreinit. The SIGCONT handling in internal/pvsignal does not
// call it; no caller in this module does.
func (c *Coordinator) NeedsReinit() {
	c.NeedReinit += 2
	if c.NeedReinit > 3 {
		c.NeedReinit = 3
	}
}

func (c *Coordinator) reinit() {
	c.lock()
	defer c.unlock()

	c.NeedReinit--
	if c.YOffset < 1 {
		c.NeedReinit = 0
	}
	if c.NeedReinit > 0 {
		return
	}

	c.YStart = c.readYPos()
	if c.YOffset < 1 && c.shared != nil {
		c.setTopmost(c.YStart)
	}
	c.YLastRead = c.YStart
}

// Update writes one display line at the row this instance owns, handling
// screen-scroll when several instances would otherwise run off the bottom
// of the terminal — mirrors pv_crs_update.
func (c *Coordinator) Update(height int, line string) {
	if !c.noIPC {
		if c.NeedReinit > 0 {
			c.reinit()
		}

		c.lock()
		c.refreshCount()
		if c.shared != nil && c.YLastRead != c.topmost() {
			c.YStart = c.topmost()
			c.YLastRead = c.YStart
		}
		c.unlock()

		if c.NeedReinit > 0 {
			return
		}
	}

	y := c.YStart

	if !c.noIPC && (c.YStart+c.PVMax) > height {
		offs := (c.YStart + c.PVMax) - height
		c.YStart -= offs
		if c.YStart < 1 {
			c.YStart = 1
		}

		if c.YOffset == 0 {
			c.lock()
			fmt.Fprintf(os.Stderr, "\033[%d;1H", height)
			for ; offs > 0; offs-- {
				os.Stderr.WriteString("\n")
			}
			c.unlock()
		}
	}

	if !c.noIPC {
		y = c.YStart + c.YOffset
	}

	if y < 1 || y > 999999 {
		y = 1
	}

	c.lock()
	fmt.Fprintf(os.Stderr, "\033[%d;1H%s", y, line)
	c.unlock()
}

// Close repositions the cursor to a final resting row and tears down the
// shared memory segment (deleting it if this was the last attached
// instance) and the lockfile, mirroring pv_crs_fini.
func (c *Coordinator) Close(height int) {
	y := c.YStart
	if c.PVMax > 0 && !c.noIPC {
		y += c.PVMax - 1
	}
	if y > height {
		y = height
	}
	if y < 1 || y > 999999 {
		y = 1
	}

	c.lock()
	fmt.Fprintf(os.Stderr, "\033[%d;1H\n", y)

	if !c.noIPC && c.shared != nil {
		c.refreshCount()
		_ = unix.SysvShmDetach(c.shared)
		c.shared = nil
		if c.PVCount < 2 {
			var desc unix.SysvShmDesc
			_, _ = unix.SysvShmCtl(c.shmID, unix.IPC_RMID, &desc)
		}
	}
	c.unlock()

	if c.lockFD >= 0 {
		unix.Close(c.lockFD)
		os.Remove(c.lockPath)
	}
	if c.termFile != nil {
		c.termFile.Close()
	}
}

// Enabled reports whether cursor positioning could be set up at all.
func (c *Coordinator) Enabled() bool { return c.enabled }

// TTYTostopAdded reports whether any attached instance has set TOSTOP on
// the shared terminal, so this process's own signal handling can learn
// about it on exit (pv_crs_fini's propagation of tty_tostop_added).
func (c *Coordinator) TTYTostopAdded() bool {
	if c.noIPC {
		return false
	}
	return c.tostopAdded()
}

// SetTTYTostopAdded propagates a local TOSTOP-added flag into the shared
// segment, so other attached instances learn about it.
func (c *Coordinator) SetTTYTostopAdded() {
	if c.noIPC {
		return
	}
	c.lock()
	c.setTOSTOPAdded(true)
	c.unlock()
}
