// Package transfer implements the per-iteration buffered-copy engine
// described in spec.md §4.6: rate limiting with a burst window, zero-copy
// splice with fd poisoning, adaptive error-skip, line-mode record
// alignment, stop-at-size, and direct-I/O toggling.
package transfer

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	goerrors "github.com/go-errors/errors"
	"golang.org/x/sys/unix"
)

const (
	// readyWait is how long one iteration may wait for input readability
	// or output writability before giving up for this tick.
	readyWait = 90 * time.Millisecond
	// readBudget / writeBudget bound how long a single iteration spends
	// actually reading or writing, regardless of readiness.
	readBudget  = 90 * time.Millisecond
	writeBudget = 900 * time.Millisecond

	// RateGranularity is how often the token bucket is topped up.
	RateGranularity = 100 * time.Millisecond
	// RateBurstWindow is how many seconds' worth of RateLimit the bucket is
	// allowed to accumulate before being capped (RateLimit*RateBurstWindow
	// bytes), i.e. how much burst above the steady rate is tolerated.
	RateBurstWindow = 5

	defaultBufferSize = 400 * 1024
	maxSkipBlock       = 512
)

// adaptiveSkipSchedule is the fixed sequence of skip sizes consulted when
// no fixed error-skip block is configured, per spec.md §4.6 step 6.
var adaptiveSkipSchedule = []int64{1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 4, 8, 16, 32, 64, 128, 256, 512}

// ErrZeroCopyUnsupported signals the fd has been poisoned against
// zero-copy after an EINVAL from the in-kernel move.
var ErrZeroCopyUnsupported = errors.New("zero-copy unsupported on this fd")

// Engine drives one input fd through the buffered-copy loop. A fresh
// Engine is not required per input file; ResetForFD handles the "every
// input file is treated independently" bookkeeping spec.md asks for.
type Engine struct {
	Buffer   []byte
	ReadPos  int64
	WritePos int64

	lastFD             int
	errorsInARow       int
	warningShown       bool
	zeroCopyPoisonedFD int
	skipStep           int

	// RateLimit, in bytes/sec; zero means free-running.
	RateLimit     int64
	rateTarget    float64
	lastRateFill  time.Time

	NoZeroCopy     bool
	LineMode       bool
	NullTerminated bool
	DiscardOutput  bool
	SyncAfterWrite bool
	BufferFill     bool

	SkipErrors     bool
	ErrorSkipBlock int64

	recentWritten []byte // ring of the last bytes actually written

	onWarning func(msg string)
}

// New builds an Engine with the given target buffer size (page-aligned
// upward, mirroring the C original's aligned allocator requirement for
// direct I/O compatibility).
func New(targetSize int64) *Engine {
	if targetSize <= 0 {
		targetSize = defaultBufferSize
	}
	e := &Engine{
		lastFD:             -1,
		zeroCopyPoisonedFD: -1,
	}
	e.growBuffer(targetSize)
	return e
}

// SetWarningHandler installs the callback used for one-shot skip-error
// warnings (§4.6 step 6): "at verbosity <= 1 announce the skip".
func (e *Engine) SetWarningHandler(f func(string)) { e.onWarning = f }

func pageAlign(n int64) int64 {
	const pageSize = 4096
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

// growBuffer reallocates the buffer to at least size, since direct-I/O
// alignment precludes growing in place: allocate new, copy, drop old.
func (e *Engine) growBuffer(size int64) {
	aligned := pageAlign(size)
	if int64(len(e.Buffer)) >= aligned {
		return
	}
	nb := make([]byte, aligned)
	copy(nb, e.Buffer[:e.WritePos])
	e.Buffer = nb
}

// ResetForFD clears the per-fd error-skip bookkeeping when the engine
// moves to a new input file, per spec.md §4.6 step 2.
func (e *Engine) ResetForFD(fd int) {
	if fd == e.lastFD {
		return
	}
	e.lastFD = fd
	e.errorsInARow = 0
	e.warningShown = false
	e.skipStep = 0
}

// RefillRateBudget tops up the token bucket by RateLimit times the seconds
// elapsed since the previous top-up; the main loop calls it every iteration.
func (e *Engine) RefillRateBudget(now time.Time) {
	if e.RateLimit <= 0 {
		return
	}
	if e.lastRateFill.IsZero() {
		e.lastRateFill = now
	}
	elapsed := now.Sub(e.lastRateFill)
	if elapsed <= 0 {
		return
	}
	e.lastRateFill = now
	e.rateTarget += float64(e.RateLimit) * elapsed.Seconds()
	burstCap := float64(e.RateLimit) * RateBurstWindow
	if e.rateTarget > burstCap {
		e.rateTarget = burstCap
	}
}

// Budget returns the bytes this iteration may transfer given the rate
// limiter (if enabled) and size clamping is applied by the caller.
func (e *Engine) Budget() int64 {
	if e.RateLimit <= 0 {
		return 1 << 30
	}
	if e.rateTarget < 0 {
		return 0
	}
	return int64(e.rateTarget)
}

// spend decrements the rate-limit token bucket by n bytes actually moved.
func (e *Engine) spend(n int64) {
	if e.RateLimit > 0 {
		e.rateTarget -= float64(n)
	}
}

// Result reports what one Iterate call accomplished.
type Result struct {
	BytesRead    int64
	BytesWritten int64
	Lines        int64
	InputEOF     bool
	OutputEOF    bool
	UsedZeroCopy bool
	Err          error
}

// ApplyDirectIO sets or clears O_DIRECT on in and out, per transfer.c's
// direct_io_changed handling: only touched when the caller reports the
// setting actually changed since the last call.
func ApplyDirectIO(in, out *os.File, enable bool) error {
	for _, f := range []*os.File{in, out} {
		flags, err := unix.FcntlInt(f.Fd(), unix.F_GETFL, 0)
		if err != nil {
			return err
		}
		if enable {
			flags |= unix.O_DIRECT
		} else {
			flags &^= unix.O_DIRECT
		}
		if _, err := unix.FcntlInt(f.Fd(), unix.F_SETFL, flags); err != nil {
			return err
		}
	}
	return nil
}

// Iterate runs one per-iteration contract (spec.md §4.6): read phase
// (possibly zero-copy), error handling, line-mode truncation, write phase,
// buffer-fill rotation. budget is the byte budget for this iteration
// (already clamped for rate-limit and stop-at-size by the caller).
func (e *Engine) Iterate(in, out *os.File, budget int64) Result {
	var res Result
	e.ResetForFD(int(in.Fd()))

	if int64(len(e.Buffer)) < 4096 {
		e.growBuffer(defaultBufferSize)
	}

	readyIn, readyOut := pollReady(in, out, readyWait)

	if readyIn && e.WritePos == 0 && !e.NoZeroCopy && !e.LineMode && int(in.Fd()) != e.zeroCopyPoisonedFD {
		n, err := trySplice(in, out, budget)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				e.zeroCopyPoisonedFD = int(in.Fd())
			} else if !isTransient(err) {
				res.Err = err
			}
		} else if n > 0 {
			res.BytesWritten = n
			res.BytesRead = n
			res.UsedZeroCopy = true
			e.recentWritten = e.recentWritten[:0]
			e.spend(n)
			if e.SyncAfterWrite {
				_ = out.Sync()
			}
			return res
		}
	}

	if readyIn && e.ReadPos < int64(len(e.Buffer)) {
		n, err := e.readPhase(in, budget)
		res.BytesRead = n
		if err != nil {
			res.Err, res.InputEOF = e.handleReadError(in, err)
		}
		if n == 0 && err == nil {
			res.InputEOF = true
		}
	}

	if e.LineMode {
		e.truncateToLastSeparator()
	}

	if readyOut && !res.UsedZeroCopy && e.WritePos < e.ReadPos {
		n, lines, err := e.writePhase(out)
		res.BytesWritten += n
		res.Lines = lines
		if err != nil {
			if isEPIPE(err) {
				res.InputEOF = true
				res.OutputEOF = true
			} else if !isTransient(err) {
				res.Err = err
			}
		}
	}

	if e.WritePos >= e.ReadPos && e.WritePos > 0 {
		e.ReadPos, e.WritePos = 0, 0
	} else if e.BufferFill && e.WritePos > 0 {
		copy(e.Buffer, e.Buffer[e.WritePos:e.ReadPos])
		e.ReadPos -= e.WritePos
		e.WritePos = 0
	}

	return res
}

func (e *Engine) readPhase(in *os.File, budget int64) (int64, error) {
	deadline := time.Now().Add(readBudget)
	var total int64
	for time.Now().Before(deadline) {
		room := int64(len(e.Buffer)) - e.ReadPos
		if room <= 0 || total >= budget {
			break
		}
		want := room
		if want > budget-total {
			want = budget - total
		}
		n, err := in.Read(e.Buffer[e.ReadPos : e.ReadPos+want])
		if n > 0 {
			e.ReadPos += int64(n)
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (e *Engine) handleReadError(in *os.File, err error) (wrapped error, inputEOF bool) {
	if isTransient(err) {
		return nil, false
	}
	e.errorsInARow++
	if !e.SkipErrors {
		return goerrors.WrapPrefix(err, "read error", 0), true
	}
	if !e.warningShown && e.onWarning != nil {
		e.onWarning("warning: read error, skipping")
		e.warningShown = true
	}

	orig, serr := in.Seek(0, io.SeekCurrent)
	if serr != nil {
		return nil, true
	}

	skip := e.nextSkipSize()
	room := int64(len(e.Buffer)) - e.ReadPos
	if skip > room {
		skip = room
	}

	// Round up to the next skip-size boundary past orig, the same way
	// transfer.c does: jumping from 257 with a skip of 512 lands on 512,
	// not 769.
	if skip > 1 {
		boundary := orig + skip
		boundary -= boundary % skip
		if boundary > orig {
			skip = boundary - orig
		}
	}

	target := orig + skip
	if _, serr := in.Seek(target, io.SeekStart); serr != nil {
		target = orig + 1
		if _, serr2 := in.Seek(target, io.SeekStart); serr2 != nil {
			return nil, true
		}
		skip = 1
	}

	for i := int64(0); i < skip && e.ReadPos < int64(len(e.Buffer)); i++ {
		e.Buffer[e.ReadPos] = 0
		e.ReadPos++
	}
	return nil, false
}

func (e *Engine) nextSkipSize() int64 {
	if e.ErrorSkipBlock > 0 {
		return e.ErrorSkipBlock
	}
	idx := e.skipStep
	if idx >= len(adaptiveSkipSchedule) {
		e.skipStep++
		return maxSkipBlock
	}
	e.skipStep++
	return adaptiveSkipSchedule[idx]
}

func (e *Engine) truncateToLastSeparator() {
	sep := byte('\n')
	if e.NullTerminated {
		sep = 0
	}
	for i := e.ReadPos - 1; i >= e.WritePos; i-- {
		if e.Buffer[i] == sep {
			e.ReadPos = i + 1
			return
		}
	}
}

func (e *Engine) writePhase(out *os.File) (written int64, lines int64, err error) {
	deadline := time.Now().Add(writeBudget)
	for e.WritePos < e.ReadPos && time.Now().Before(deadline) {
		if e.DiscardOutput {
			n := e.ReadPos - e.WritePos
			lines += countSeparators(e.Buffer[e.WritePos:e.ReadPos], e.sepByte())
			e.recordWritten(e.Buffer[e.WritePos:e.ReadPos])
			e.WritePos += n
			written += n
			continue
		}
		n, werr := out.Write(e.Buffer[e.WritePos:e.ReadPos])
		if n > 0 {
			lines += countSeparators(e.Buffer[e.WritePos:e.WritePos+int64(n)], e.sepByte())
			e.recordWritten(e.Buffer[e.WritePos : e.WritePos+int64(n)])
			e.WritePos += int64(n)
			written += int64(n)
		}
		if werr != nil {
			if isTransient(werr) {
				return written, lines, nil
			}
			return written, lines, werr
		}
	}
	return written, lines, nil
}

func (e *Engine) sepByte() byte {
	if e.NullTerminated {
		return 0
	}
	return '\n'
}

func countSeparators(b []byte, sep byte) int64 {
	var n int64
	for _, c := range b {
		if c == sep {
			n++
		}
	}
	return n
}

func (e *Engine) recordWritten(b []byte) {
	const ringCap = 64
	e.recentWritten = append(e.recentWritten, b...)
	if len(e.recentWritten) > ringCap {
		e.recentWritten = e.recentWritten[len(e.recentWritten)-ringCap:]
	}
}

// RecentWritten returns the ring of most recently written bytes, backing
// the "%<N>A" display token. It is empty after a zero-copy iteration,
// since zero-copy never populates the userspace buffer.
func (e *Engine) RecentWritten() []byte { return e.recentWritten }

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

func isEPIPE(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, unix.EPIPE)
}

func trySplice(in, out *os.File, budget int64) (int64, error) {
	if budget <= 0 {
		return 0, nil
	}
	n, err := unix.Splice(int(in.Fd()), nil, int(out.Fd()), nil, int(budget), unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
	return int64(n), err
}

func pollReady(in, out *os.File, wait time.Duration) (inReady, outReady bool) {
	fds := []unix.PollFd{
		{Fd: int32(in.Fd()), Events: unix.POLLIN},
		{Fd: int32(out.Fd()), Events: unix.POLLOUT},
	}
	_, _ = unix.Poll(fds, int(wait.Milliseconds()))
	inReady = fds[0].Revents&unix.POLLIN != 0
	outReady = fds[1].Revents&unix.POLLOUT != 0
	return
}
