// Package watchpid implements "pv --watchpid PID" style whole-process watching:
// discover every watchable fd a process has open and render one progress
// line per fd, redrawing the whole block in place each tick. Grounded on
// watchpid.c's pv_watchpid_scanfds and the per-fd state.Clone() contract
// from spec.md DESIGN NOTES §9.
package watchpid

import (
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"

	"github.com/deepin-community/pv/internal/procwatch"
	"github.com/deepin-community/pv/internal/pvstring"
	"github.com/deepin-community/pv/internal/state"
	"github.com/deepin-community/pv/internal/watchfd"
)

// slot pairs a watched fd's own cloned state with its watcher and the
// short label shown on its display line.
type slot struct {
	fd      int
	label   string
	watcher *watchfd.Watcher
	state   *state.State
	active  bool
}

// Dashboard watches every watchable fd of a process, adding newly-opened
// ones each scan and dropping ones that close.
type Dashboard struct {
	pid int
	out io.Writer
	tpl *state.State

	slots     []slot
	fdToSlot  map[int]int
	lastDrawn int
}

// New builds a dashboard for watchPID, cloning tpl's control/display
// configuration for each fd it discovers (tpl itself is never mutated).
func New(pid int, tpl *state.State, out io.Writer) *Dashboard {
	return &Dashboard{
		pid:      pid,
		out:      out,
		tpl:      tpl,
		fdToSlot: make(map[int]int),
	}
}

// Scan discovers newly-opened watchable fds on the target process and adds
// a slot + watcher for each, per pv_watchpid_scanfds. Returns an error only
// if the process itself could not be enumerated (e.g. it has exited).
func (d *Dashboard) Scan() error {
	fds, err := procwatch.ListFDs(d.pid)
	if err != nil {
		return fmt.Errorf("watchpid: %w", err)
	}

	for _, fd := range fds {
		if _, known := d.fdToSlot[fd]; known {
			continue
		}

		cloned := d.tpl.Clone()
		w, err := watchfd.New(cloned, d.pid, fd, d.out)
		if err != nil {
			// Not a regular file or block device (pipe, socket, tty): not
			// watchable, matching filesize()'s false return in watchpid.c.
			continue
		}

		label := fmt.Sprintf("fd%d", fd)
		cloned.Control.DisplayName = label

		idx := d.reuseOrAppendSlot(slot{
			fd:      fd,
			label:   label,
			watcher: w,
			state:   cloned,
			active:  true,
		})
		d.fdToSlot[fd] = idx
	}
	return nil
}

// reuseOrAppendSlot fills the first inactive slot, mirroring the original
// array's "reuse an empty entry with watch_pid==0" rule, or appends a new
// one if none is free.
func (d *Dashboard) reuseOrAppendSlot(s slot) int {
	activeFlags := lo.Map(d.slots, func(existing slot, _ int) bool { return existing.active })
	for idx, active := range activeFlags {
		if !active {
			d.slots[idx] = s
			return idx
		}
	}
	d.slots = append(d.slots, s)
	return len(d.slots) - 1
}

// Tick renders one update for every active slot, shortening each slot's
// "fd<N>" label to at most half the configured width less six columns,
// then drops any slot whose fd has closed since the last tick. The label is
// the fd number, not the name of the file the fd refers to.
func (d *Dashboard) Tick() {
	lines := make([]string, 0, len(d.slots))

	for i := range d.slots {
		s := &d.slots[i]
		if !s.active {
			continue
		}

		width := s.state.Control.Width
		if width <= 0 {
			width = 80
		}
		s.state.Control.DisplayName = pvstring.MiddleEllipsis(s.label, width/2-6)

		line, ok := s.watcher.Line(false)
		if !ok {
			s.active = false
			delete(d.fdToSlot, s.fd)
			continue
		}
		lines = append(lines, line)
	}

	d.redraw(lines)
}

// redraw rewrites the dashboard block in place: move the cursor up by the
// number of lines last drawn, then print the current set, matching the
// in-place multi-line redraw idiom used throughout the display engine.
func (d *Dashboard) redraw(lines []string) {
	if d.lastDrawn > 0 {
		fmt.Fprintf(d.out, "\033[%dA", d.lastDrawn)
	}
	for _, line := range lines {
		fmt.Fprintf(d.out, "\r\033[K%s\n", line)
	}
	d.lastDrawn = len(lines)
}

// Active reports whether any watched fd is still open.
func (d *Dashboard) Active() bool {
	for _, s := range d.slots {
		if s.active {
			return true
		}
	}
	return false
}

// ScanLoop runs Scan+Tick on interval until the watched process exits or
// every watched fd has closed.
func (d *Dashboard) ScanLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := d.Scan(); err != nil {
				return
			}
			d.Tick()
			if len(d.slots) > 0 && !d.Active() {
				return
			}
		}
	}
}
