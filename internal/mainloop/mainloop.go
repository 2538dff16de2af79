// Package mainloop ties transfer, display, pvsignal, remote, and cursor
// together into the single cooperative loop spec.md §4.7 describes: read
// a chunk, maybe render, repeat, across every input file in turn. Grounded
// on loop.c's pv_main_loop — the single-threaded "do one unit of work,
// check flags, maybe display, repeat" shape is kept exactly; what differs
// is that blocking I/O readiness here comes from transfer.Engine's poll
// step rather than an inline select() in this package.
package mainloop

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/deepin-community/pv/internal/cursor"
	"github.com/deepin-community/pv/internal/display"
	"github.com/deepin-community/pv/internal/pvsignal"
	"github.com/deepin-community/pv/internal/pvtime"
	"github.com/deepin-community/pv/internal/remote"
	"github.com/deepin-community/pv/internal/state"
	"github.com/deepin-community/pv/internal/transfer"
)

var warnColor = color.New(color.FgRed).SprintFunc()

// Loop owns one run of the transfer+display cycle across the configured
// input files.
type Loop struct {
	st     *state.State
	engine *transfer.Engine
	sig    *pvsignal.Handler
	crs    *cursor.Coordinator
	out    *os.File
	errOut io.Writer

	start      pvtime.Instant
	lastRender pvtime.Instant
	format     *display.Format
	waiting    bool // true while --wait has yet to see its first byte/line
}

// New builds a Loop ready to Run against st's configured input file list.
// sig and crs may be nil (no signal handling / no cursor coordination,
// e.g. when stderr isn't a terminal).
func New(st *state.State, out *os.File, errOut io.Writer, sig *pvsignal.Handler, crs *cursor.Coordinator) *Loop {
	return &Loop{
		st:     st,
		engine: transfer.New(st.Control.TargetBufferSize),
		sig:    sig,
		crs:    crs,
		out:    out,
		errOut: errOut,
	}
}

// Run copies every configured input file to out, rendering progress on
// errOut per the configured interval, until all inputs are exhausted or a
// trigger-exit flag (SIGINT/SIGTERM/SIGHUP) is set.
func (l *Loop) Run() int {
	l.engine.NoZeroCopy = l.st.Control.NoZeroCopy
	l.engine.LineMode = l.st.Control.LineMode
	l.engine.NullTerminated = l.st.Control.NullTerminated
	l.engine.DiscardOutput = l.st.Control.DiscardOutput
	l.engine.SyncAfterWrite = l.st.Control.SyncAfterWrite
	l.engine.BufferFill = l.st.Control.BufferFillMode
	l.engine.RateLimit = l.st.Control.RateLimit
	l.engine.SkipErrors = l.st.Control.SkipErrors > 0
	l.engine.ErrorSkipBlock = l.st.Control.ErrorSkipBlock
	l.engine.SetWarningHandler(func(msg string) {
		fmt.Fprintln(l.errOut, l.st.Status.ProgName+": "+warnColor(msg))
	})

	l.start = pvtime.Now()
	l.lastRender = l.start
	l.waiting = l.st.Control.WaitForData

	names := l.st.Files.Names
	if len(names) == 0 {
		names = []string{"-"}
	}

	var totalWritten int64
	for idx, name := range names {
		l.st.Status.CurrentFile = idx
		in, err := openInput(name)
		if err != nil {
			fmt.Fprintf(l.errOut, "%s: %s: %s\n", l.st.Status.ProgName, name, warnColor(err.Error()))
			l.st.Status.ExitStatus |= state.ExitFileOperation
			continue
		}

		written, done := l.copyOne(in)
		totalWritten += written
		if in != os.Stdin {
			in.Close()
		}
		if done {
			break
		}
	}

	l.render(true)
	return l.st.Status.ExitStatus
}

func openInput(name string) (*os.File, error) {
	if name == "-" || name == "" {
		return os.Stdin, nil
	}
	return os.Open(name)
}

// copyOne drives the transfer engine across a single input file until EOF,
// a fatal error, or an exit signal. Returns bytes written and whether the
// caller should stop processing further files (fatal/exit condition).
func (l *Loop) copyOne(in *os.File) (int64, bool) {
	var written int64

	if l.st.Control.DirectIOChanged {
		if err := transfer.ApplyDirectIO(in, l.out, l.st.Control.DirectIO); err != nil {
			fmt.Fprintf(l.errOut, "%s: direct-io: %s\n", l.st.Status.ProgName, warnColor(err.Error()))
		}
		l.st.Control.DirectIOChanged = false
	}

	for {
		if l.st.Flag.TriggerExit() {
			l.st.Status.ExitStatus |= state.ExitSignal
			return written, true
		}

		if l.sig != nil {
			l.checkRemote()
		}

		budget := l.iterationBudget()
		res := l.engine.Iterate(in, l.out, budget)
		written += res.BytesWritten

		l.st.Transfer.ReadPos += res.BytesRead

		if res.Err != nil {
			l.st.Status.ExitStatus |= state.ExitReadWriteError
			return written, true
		}

		progressed := res.BytesWritten > 0
		if l.st.Control.LineMode {
			progressed = res.Lines > 0
		}
		if l.waiting {
			if !progressed {
				continue
			}
			l.waiting = false
			l.start = pvtime.Now()
			l.lastRender = l.start
		}

		l.maybeRender(false)

		if l.st.Control.StopAtSize && l.st.Control.Size > 0 && l.st.Transfer.ReadPos >= l.st.Control.Size {
			return written, true
		}
		if res.OutputEOF {
			return written, true
		}
		if res.InputEOF {
			return written, false
		}
	}
}

// iterationBudget computes the bytes this iteration may move: the plain
// buffer size when free-running, the rate-limit token bucket when capped,
// and in both cases clamped so a stop-at-size run's running total can
// never exceed Size (spec.md §4.6's "both EOFs set at the boundary").
func (l *Loop) iterationBudget() int64 {
	var budget int64
	if l.st.Control.RateLimit <= 0 {
		budget = l.st.Control.TargetBufferSize
	} else {
		l.engine.RefillRateBudget(time.Now())
		budget = l.engine.Budget()
	}

	if l.st.Control.StopAtSize && l.st.Control.Size > 0 {
		remaining := l.st.Control.Size - l.st.Transfer.ReadPos
		if remaining < 0 {
			remaining = 0
		}
		if remaining < budget {
			budget = remaining
		}
	}
	return budget
}

func (l *Loop) checkRemote() {
	if l.st.Flag.ReparseDisplay() {
		l.format = nil
	}
	if _, ok := l.st.Signal.TakeUSR2(); ok {
		if changed, err := remote.Consume(&l.st.Control); err == nil && changed {
			l.format = nil
		}
	}
}

// maybeRender renders a display update if the configured interval has
// elapsed since the last one (or force is true), per spec.md §4.7's
// "don't render more often than --interval" rule.
func (l *Loop) maybeRender(force bool) {
	now := pvtime.Now()
	if !force && l.st.Control.DelayStart > 0 && now.Sub(l.start).Seconds() < l.st.Control.DelayStart {
		return
	}
	elapsed := now.Sub(l.lastRender).Seconds()
	if !force && elapsed < l.st.Control.Interval {
		return
	}
	l.lastRender = now
	l.render(false)
}

func (l *Loop) render(final bool) {
	if l.st.Control.NoDisplay {
		return
	}

	elapsed := pvtime.Now().Sub(l.start).Seconds()
	pos := l.st.Transfer.ReadPos
	l.st.Display.History.Add(elapsed, pos)

	instant := l.instantRate(elapsed, pos)
	average := l.st.Display.History.Average(instant)
	if final {
		instant = average
	}

	in := display.Inputs{
		Name:             l.st.Control.DisplayName,
		Bytes:            pos,
		BitsMode:         l.st.Control.BitsMode,
		BytesMode:        !l.st.Control.LineMode,
		ElapsedSeconds:   elapsed,
		InstantRate:      instant,
		AverageRate:      average,
		SizeKnown:        l.st.Control.Size > 0,
		TerminalWidth:    l.st.Control.Width,
		LastBytesWritten: l.engine.RecentWritten(),
		NowUnix:          time.Now().Unix(),
		Final:            final,
	}
	if in.SizeKnown {
		in.Percentage = int(100 * float64(pos) / float64(l.st.Control.Size))
		if in.Percentage > 100 {
			in.Percentage = 100
		}
		if average > 0 {
			in.ETASeconds = float64(l.st.Control.Size-pos) / average
			in.ETAValid = in.ETASeconds >= 0
			in.ETAAbsoluteUnix = in.NowUnix + int64(in.ETASeconds)
		}
	} else {
		// Unknown size: bounce a sawtooth 0%-100%-0% so numeric mode and
		// the progress bar both show movement, per display.c's
		// "percentage += 2, wrap past 199" rule.
		if instant > 0 {
			l.st.Display.Percentage += 2
			if l.st.Display.Percentage > 199 {
				l.st.Display.Percentage = 0
			}
		}
		in.Percentage = l.st.Display.Percentage
	}

	line := l.renderLine(in)

	l.st.Display.CarryOverBytes = pos
	l.st.Display.LastRateElapsed = elapsed

	switch {
	case l.st.Control.NumericMode:
		// display.c's numeric branch: the formatted line is written
		// followed by "\n", with no leading or trailing "\r".
		fmt.Fprint(l.errOut, line+"\n")
	case l.crs != nil && l.crs.Enabled():
		l.crs.Update(l.st.Control.Height, line)
	default:
		// Non-numeric, non-cursor: the line is written first, then "\r"
		// after it, so the next update overwrites it in place.
		fmt.Fprint(l.errOut, line)
		fmt.Fprint(l.errOut, "\r")
		if final {
			fmt.Fprintln(l.errOut)
		}
	}
}

func (l *Loop) instantRate(elapsed float64, pos int64) float64 {
	if l.st.Display.LastRateElapsed <= 0 {
		return 0
	}
	dt := elapsed - l.st.Display.LastRateElapsed
	if dt <= 0 {
		return l.st.Display.LastRate
	}
	rate := float64(pos-l.st.Display.CarryOverBytes) / dt
	l.st.Display.LastRate = rate
	return rate
}

func (l *Loop) renderLine(in display.Inputs) string {
	if l.st.Control.NumericMode {
		return display.RenderNumeric(in, true)
	}
	if l.format == nil {
		formatStr := l.st.Control.UserFormat
		if formatStr == "" {
			formatStr = display.BuildDefaultFormat(display.DefaultFormatOptions{
				Name:  in.Name != "",
				Bytes: true,
				Timer: true,
				Rate:  true,
				Bar:   true,
				ETA:   in.SizeKnown,
			})
		}
		l.format = display.Parse(formatStr)
	}
	line := display.Render(l.format, in, l.st.Display.LastLen, l.st.Display.PrevWidth)
	l.st.Display.LastLen = len(line)
	l.st.Display.PrevWidth = in.TerminalWidth
	return line
}
