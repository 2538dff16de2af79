// Package watchfd implements "pv -d PID:FD" style single-fd watching:
// poll another process's fd position on an interval and render a normal
// progress display for it, without ever reading or writing the fd's data
// directly. Grounded on watchpid.c's pv_watchfd_* helpers, reused here for
// a single fd instead of watchpid's whole-process dashboard.
package watchfd

import (
	"fmt"
	"io"
	"time"

	"github.com/deepin-community/pv/internal/display"
	"github.com/deepin-community/pv/internal/procwatch"
	"github.com/deepin-community/pv/internal/state"
)

// Watcher polls a single remote fd's position and renders a progress
// display line for it.
type Watcher struct {
	st    *state.State
	info  procwatch.Info
	start time.Time
	out   io.Writer
}

// New probes pid's fd once to capture its identity/size, failing if the
// fd doesn't currently refer to a regular file or block device.
func New(st *state.State, pid, fd int, out io.Writer) (*Watcher, error) {
	info, err := procwatch.Probe(pid, fd)
	if err != nil {
		return nil, fmt.Errorf("watchfd: %w", err)
	}
	st.Control.Size = info.Size
	return &Watcher{st: st, info: info, out: out}, nil
}

// Tick reads the fd's current position and writes one rendered display
// update to the watcher's output. It returns false once the fd has closed
// or changed identity, which the caller treats the same way as reaching
// EOF on a real transfer.
func (w *Watcher) Tick(final bool) bool {
	line, ok := w.Line(final)
	if !ok {
		return false
	}
	fmt.Fprint(w.out, line)
	return true
}

// Line computes one rendered display line without writing it anywhere,
// so a caller coordinating several watchers (internal/watchpid) can batch
// the writes for its own redraw scheme.
func (w *Watcher) Line(final bool) (string, bool) {
	pos := procwatch.Position(w.info)
	if pos < 0 {
		return "", false
	}

	if w.start.IsZero() {
		w.start = time.Now()
	}
	elapsed := time.Since(w.start).Seconds()

	w.st.Display.History.Add(elapsed, pos)
	instant := instantRate(w.st, elapsed, pos)
	average := w.st.Display.History.Average(instant)

	in := buildInputs(w.st, pos, elapsed, instant, average, final)
	line := w.render(in)

	w.st.Display.CarryOverBytes = pos
	w.st.Display.LastRateElapsed = elapsed
	return line, true
}

func instantRate(st *state.State, elapsed float64, pos int64) float64 {
	if st.Display.LastRateElapsed <= 0 {
		return 0
	}
	dt := elapsed - st.Display.LastRateElapsed
	if dt <= 0 {
		return st.Display.LastRate
	}
	rate := float64(pos-st.Display.CarryOverBytes) / dt
	st.Display.LastRate = rate
	return rate
}

func buildInputs(st *state.State, pos int64, elapsed, instant, average float64, final bool) display.Inputs {
	in := display.Inputs{
		Name:           st.Control.DisplayName,
		Bytes:          pos,
		BytesMode:      !st.Control.LineMode,
		BitsMode:       st.Control.BitsMode,
		ElapsedSeconds: elapsed,
		InstantRate:    instant,
		AverageRate:    average,
		SizeKnown:      st.Control.Size > 0,
		TerminalWidth:  st.Control.Width,
		Final:          final,
	}
	if in.SizeKnown {
		in.Percentage = int(100 * float64(pos) / float64(st.Control.Size))
		if in.Percentage > 100 {
			in.Percentage = 100
		}
		if average > 0 {
			in.ETASeconds = float64(st.Control.Size-pos) / average
			in.ETAValid = in.ETASeconds >= 0
		}
	}
	if final {
		in.InstantRate = average
	}
	return in
}

func (w *Watcher) render(in display.Inputs) string {
	if w.st.Control.NumericMode {
		return display.RenderNumeric(in, true) + "\n"
	}
	formatStr := w.st.Control.UserFormat
	if formatStr == "" {
		formatStr = display.BuildDefaultFormat(display.DefaultFormatOptions{
			Bar:   true,
			Timer: true,
			Rate:  true,
			Bytes: true,
			ETA:   in.SizeKnown,
			Name:  in.Name != "",
		})
	}
	f := display.Parse(formatStr)
	line := display.Render(f, in, w.st.Display.LastLen, w.st.Display.PrevWidth)
	w.st.Display.LastLen = len(line)
	w.st.Display.PrevWidth = in.TerminalWidth
	return "\r" + line
}
