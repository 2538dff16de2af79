// Command pv is the CLI entrypoint: parse flags, build a state.State, and
// hand off to the mainloop (or the remote/watch-fd/watch-pid variants).
// Flag parsing stays thin on purpose — spec.md names CLI surface and
// packaging as external collaborators; this file exists so the rest of
// the module is runnable end to end.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/deepin-community/pv/internal/cursor"
	"github.com/deepin-community/pv/internal/display"
	"github.com/deepin-community/pv/internal/mainloop"
	"github.com/deepin-community/pv/internal/pvlog"
	"github.com/deepin-community/pv/internal/pvnumber"
	"github.com/deepin-community/pv/internal/pvsignal"
	"github.com/deepin-community/pv/internal/remote"
	"github.com/deepin-community/pv/internal/state"
	"github.com/deepin-community/pv/internal/watchfd"
	"github.com/deepin-community/pv/internal/watchpid"
)

var version = "unversioned"

var errColor = color.New(color.FgRed).SprintFunc()

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("pv", pflag.ContinueOnError)

	var (
		progress     = fs.BoolP("progress", "p", false, "show progress bar")
		timer        = fs.BoolP("timer", "t", false, "show elapsed time")
		eta          = fs.BoolP("eta", "e", false, "show ETA")
		etaAbs       = fs.BoolP("fineta", "I", false, "show absolute ETA")
		rate         = fs.BoolP("rate", "r", false, "show transfer rate")
		average      = fs.BoolP("average-rate", "a", false, "show average rate")
		bytesFlag    = fs.BoolP("bytes", "b", false, "show bytes transferred")
		bits         = fs.BoolP("bits", "8", false, "count bits instead of bytes")
		bufPct       = fs.BoolP("buffer-percent", "T", false, "show buffer fill percentage")
		name         = fs.StringP("name", "N", "", "display name prefix")
		format       = fs.StringP("format", "F", "", "custom format string")
		size         = fs.StringP("size", "s", "", "expected total size")
		rateLimit    = fs.StringP("rate-limit", "L", "", "limit transfer rate")
		bufferSize   = fs.StringP("buffer-size", "B", "", "buffer size")
		delayStart   = fs.StringP("delay-start", "D", "", "delay before display appears")
		interval     = fs.StringP("interval", "i", "", "display update interval")
		width        = fs.StringP("width", "w", "", "assume terminal is this wide")
		height       = fs.StringP("height", "H", "", "assume terminal is this tall")
		avgWindow    = fs.StringP("average-rate-window", "m", "", "averaging window in seconds")
		wait         = fs.BoolP("wait", "W", false, "wait for the first byte/line before starting the timer")
		lineMode     = fs.BoolP("line-mode", "l", false, "count lines instead of bytes")
		nullTerm     = fs.BoolP("null", "0", false, "lines are NUL-terminated")
		quiet        = fs.BoolP("quiet", "q", false, "no display at all")
		numeric      = fs.BoolP("numeric", "n", false, "numeric output instead of a bar")
		cursorMode   = fs.BoolP("cursor", "c", false, "use cursor positioning for multiple instances")
		force        = fs.BoolP("force", "f", false, "force display even if stderr is not a terminal")
		stopAtSize   = fs.BoolP("stop-at-size", "S", false, "stop after size bytes")
		skipErrors   = fs.CountP("skip-errors", "E", "skip read errors (repeat to increase tolerance)")
		errSkipBlock = fs.StringP("error-skip-block", "Z", "", "fixed skip size on read error")
		discard      = fs.BoolP("discard", "X", false, "read input, discard output")
		syncWrite    = fs.BoolP("sync", "Y", false, "fsync after every write")
		directIO     = fs.BoolP("direct-io", "K", false, "use direct I/O for the transfer")
		noZeroCopy   = fs.BoolP("no-splice", "C", false, "never use zero-copy splice")
		bufferFill   = fs.Bool("buffer-fill", false, "rotate buffer instead of clearing on output stall")
		remotePID    = fs.IntP("remote", "R", 0, "reconfigure a running pv by PID")
		pidfile      = fs.StringP("pidfile", "P", "", "write this instance's PID to a file")
		watchFDSpec  = fs.StringP("watchfd", "d", "", "watch PID:FD instead of copying")
		watchPID     = fs.Int("watchpid", 0, "dashboard every watchable fd of PID")
		debug        = fs.Bool("debug", false, "verbose internal diagnostics logging")
		showVersion  = fs.Bool("version", false, "print version and exit")
	)

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, "pv:", errColor(err.Error()))
		return 1
	}

	if *showVersion {
		fmt.Fprintf(os.Stdout, "pv %s\n", version)
		return 0
	}

	log := pvlog.New(*debug, version)
	log.Debug("starting")

	st := state.New("pv")
	st.Control.ForceDisplay = *progress || *force
	st.Control.CursorMode = *cursorMode
	st.Control.NumericMode = *numeric
	st.Control.WaitForData = *wait
	st.Control.LineMode = *lineMode
	st.Control.NullTerminated = *nullTerm
	st.Control.BitsMode = *bits
	st.Control.NoDisplay = *quiet
	st.Control.StopAtSize = *stopAtSize
	st.Control.SyncAfterWrite = *syncWrite
	st.Control.DirectIO = *directIO
	st.Control.DirectIOChanged = fs.Changed("direct-io")
	st.Control.NoZeroCopy = *noZeroCopy
	st.Control.DiscardOutput = *discard
	st.Control.BufferFillMode = *bufferFill
	st.Control.SkipErrors = *skipErrors
	st.Control.DisplayName = *name
	st.Control.UserFormat = *format
	st.Files.Names = fs.Args()

	if *size != "" {
		st.Control.Size = pvnumber.ParseSize(*size)
	}
	if *rateLimit != "" {
		st.Control.RateLimit = pvnumber.ParseSize(*rateLimit)
	}
	if *bufferSize != "" {
		st.Control.TargetBufferSize = pvnumber.ParseSize(*bufferSize)
		st.Control.NoZeroCopy = true
	}
	if *errSkipBlock != "" {
		st.Control.ErrorSkipBlock = pvnumber.ParseSize(*errSkipBlock)
	}
	if *delayStart != "" {
		st.Control.DelayStart = pvnumber.ParseInterval(*delayStart)
	}
	if *interval != "" {
		st.Control.Interval = pvnumber.ParseInterval(*interval)
	}
	if *avgWindow != "" {
		st.Control.AverageRateWindow = pvnumber.ParseInterval(*avgWindow)
	}
	if *discard {
		st.Control.NoZeroCopy = true
	}

	w, h := terminalSize()
	if *width != "" {
		w = int(pvnumber.ParseSize(*width))
		st.Control.WidthManual = true
	}
	if *height != "" {
		h = int(pvnumber.ParseSize(*height))
		st.Control.HeightManual = true
	}
	st.Control.Width = w
	st.Control.Height = h

	if *pidfile != "" {
		if err := os.WriteFile(*pidfile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "pv: %s: %s\n", *pidfile, errColor(err.Error()))
			return 1
		}
		defer os.Remove(*pidfile)
	}

	if st.Control.UserFormat == "" {
		anyComponent := *timer || *eta || *etaAbs || *rate || *average || *bytesFlag || *bufPct || *progress
		if anyComponent {
			st.Control.UserFormat = display.BuildDefaultFormat(display.DefaultFormatOptions{
				Name:        st.Control.DisplayName != "",
				BufferPct:   *bufPct,
				Timer:       *timer,
				Rate:        *rate,
				AverageRate: *average,
				Bar:         *progress,
				ETA:         *eta,
				ETAAbsolute: *etaAbs,
				Bytes:       *bytesFlag,
			})
		}
	}

	switch {
	case *remotePID > 0:
		return runRemoteSet(st, *remotePID)
	case *watchFDSpec != "":
		return runWatchFD(st, *watchFDSpec)
	case *watchPID > 0:
		return runWatchPID(st, *watchPID)
	default:
		return runTransfer(st)
	}
}

func terminalSize() (int, int) {
	if w, h, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 && h > 0 {
		return w, h
	}
	return 80, 25
}

func runTransfer(st *state.State) int {
	sig := pvsignal.Install(st, int(os.Stderr.Fd()))
	defer sig.Stop()

	var crs *cursor.Coordinator
	if st.Control.CursorMode {
		var err error
		crs, err = cursor.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "pv: cursor: %s\n", errColor(err.Error()))
			st.Control.CursorMode = false
		}
	}

	loop := mainloop.New(st, os.Stdout, os.Stderr, sig, crs)
	status := loop.Run()

	if crs != nil {
		crs.Close(st.Control.Height)
	}
	return status
}

// runRemoteSet sends the flags given on this invocation (besides -R
// itself) to the running pv identified by pid, per spec.md §4.9's sender
// protocol. It installs a transient SIGUSR2 handler of its own so Set's
// ack wait has a channel to block on.
func runRemoteSet(st *state.State, pid int) int {
	msg := remote.Message{
		Progress:   st.Control.ForceDisplay,
		RateLimit:  st.Control.RateLimit,
		BufferSize: st.Control.TargetBufferSize,
		Size:       st.Control.Size,
		Interval:   st.Control.Interval,
		Width:      st.Control.Width,
		Height:     st.Control.Height,
		Name:       st.Control.DisplayName,
		Format:     st.Control.UserFormat,
	}

	ackCh := make(chan struct{}, 1)
	sig := pvsignal.Install(st, int(os.Stderr.Fd()))
	defer sig.Stop()
	go func() {
		for {
			time.Sleep(20 * time.Millisecond)
			if _, ok := st.Signal.TakeUSR2(); ok {
				ackCh <- struct{}{}
				return
			}
		}
	}()

	if err := remote.Set(pid, msg, ackCh); err != nil {
		fmt.Fprintf(os.Stderr, "pv: %s\n", errColor(err.Error()))
		return 1
	}
	return 0
}

func runWatchFD(st *state.State, spec string) int {
	pid, fd, err := parsePIDFD(spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pv: %s\n", errColor(err.Error()))
		return 1
	}
	st.Control.WatchPID = pid
	st.Control.WatchFD = fd

	w, err := watchfd.New(st, pid, fd, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pv: %s\n", errColor(err.Error()))
		return 1
	}

	ticker := time.NewTicker(time.Duration(st.Control.Interval * float64(time.Second)))
	defer ticker.Stop()
	for range ticker.C {
		if !w.Tick(false) {
			w.Tick(true)
			return 0
		}
	}
	return 0
}

func runWatchPID(st *state.State, pid int) int {
	st.Control.WatchPID = pid
	d := watchpid.New(pid, st, os.Stderr)
	stop := make(chan struct{})
	d.ScanLoop(time.Duration(st.Control.Interval*float64(time.Second)), stop)
	return 0
}

func parsePIDFD(spec string) (int, int, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("watchfd: expected PID:FD, got %q", spec)
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("watchfd: bad pid %q", parts[0])
	}
	fd, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("watchfd: bad fd %q", parts[1])
	}
	return pid, fd, nil
}
