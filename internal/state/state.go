// Package state holds the shared state record described in spec.md §3,
// split into the sub-groups spec.md's DESIGN NOTES §9 asks for: status,
// files, control, flag, signal, display, cursor, and transfer. A single
// *State is threaded through the main loop and the signal-reachable fields
// are kept as small atomic-friendly types so a signal handler only ever
// touches a flag or a timestamp, never the whole record.
package state

import (
	"sync/atomic"

	"github.com/deepin-community/pv/internal/pvtime"
	"github.com/deepin-community/pv/internal/ratehist"
)

// ExitBit values are OR'd into Status.ExitStatus on the way out, per
// spec.md §6.
const (
	ExitFileOperation  = 1 << 1 // 2
	ExitSameFile       = 1 << 2 // 4
	ExitCloseError     = 1 << 3 // 8
	ExitReadWriteError = 1 << 4 // 16
	ExitSignal         = 1 << 5 // 32
	ExitAllocation     = 1 << 6 // 64
)

// Status groups the program-identity and progress-through-input-files
// bookkeeping.
type Status struct {
	ProgName    string
	Cwd         string
	CurrentFile int
	ExitStatus  int
}

// Files is the ordered sequence of input file names; "-" denotes stdin.
type Files struct {
	Names []string
}

// Control is the configuration set by the external CLI layer before the
// loop starts. Some fields may be overwritten mid-run by the remote
// channel (internal/remote), which is why it is its own addressable
// sub-struct rather than inlined into State.
type Control struct {
	// Flags
	ForceDisplay     bool
	CursorMode       bool
	NumericMode      bool
	WaitForData      bool
	LineMode         bool
	NullTerminated   bool
	BitsMode         bool
	NoDisplay        bool
	StopAtSize       bool
	SyncAfterWrite   bool
	DirectIO         bool
	DirectIOChanged  bool
	NoZeroCopy       bool
	DiscardOutput    bool
	BufferFillMode   bool

	// Tunables
	SkipErrors          int
	ErrorSkipBlock      int64
	RateLimit           int64
	TargetBufferSize    int64
	Size                int64
	Interval            float64
	DelayStart          float64
	WatchPID            int
	WatchFD             int
	AverageRateWindow   float64
	Width               int
	WidthManual         bool
	Height              int
	HeightManual        bool

	// Strings
	DisplayName string
	UserFormat  string
}

// Flag holds the sticky volatile booleans set by signal handlers. Each is
// a plain int32 used with sync/atomic so a signal handler never takes a
// lock or allocates.
type Flag struct {
	reparseDisplay  int32
	terminalResized int32
	triggerExit     int32
}

func (f *Flag) SetReparseDisplay()      { atomic.StoreInt32(&f.reparseDisplay, 1) }
func (f *Flag) ReparseDisplay() bool    { return atomic.SwapInt32(&f.reparseDisplay, 0) == 1 }
func (f *Flag) SetTerminalResized()     { atomic.StoreInt32(&f.terminalResized, 1) }
func (f *Flag) TerminalResized() bool   { return atomic.SwapInt32(&f.terminalResized, 0) == 1 }
func (f *Flag) SetTriggerExit()         { atomic.StoreInt32(&f.triggerExit, 1) }
func (f *Flag) TriggerExit() bool       { return atomic.LoadInt32(&f.triggerExit) == 1 }

// Signal groups the handler-reachable state: saved stderr fd, TOSTOP
// bookkeeping, stop-time accounting, and the USR2 remote-reconfig receipt.
type Signal struct {
	SavedStderrFd    int
	StderrRedirected int32
	TOSTOPWasAdded   bool

	tstpInstant    atomic.Value // pvtime.Instant
	StoppedOffset  int64        // nanoseconds, accumulated across stop/cont cycles
	usr2Received   int32
	usr2SenderPID  int32
}

func (s *Signal) RecordTSTP(now pvtime.Instant)  { s.tstpInstant.Store(now) }
func (s *Signal) TSTPInstant() (pvtime.Instant, bool) {
	v := s.tstpInstant.Load()
	if v == nil {
		return pvtime.Instant{}, false
	}
	return v.(pvtime.Instant), true
}
func (s *Signal) ClearTSTP() { s.tstpInstant.Store(pvtime.Instant{}) }

func (s *Signal) SetUSR2Received(pid int32) {
	atomic.StoreInt32(&s.usr2SenderPID, pid)
	atomic.StoreInt32(&s.usr2Received, 1)
}
func (s *Signal) TakeUSR2() (int32, bool) {
	if atomic.SwapInt32(&s.usr2Received, 0) == 1 {
		return atomic.LoadInt32(&s.usr2SenderPID), true
	}
	return 0, false
}

// Display groups the per-tick render state: buffers, visibility, the
// working percentage, rate history, and the "recently written bytes" ring
// used by "%<N>A".
type Display struct {
	Visible         bool
	LastLen         int
	PrevWidth       int
	Percentage      int
	LastRate        float64
	LastRateElapsed float64
	CarryOverBytes  int64
	History         *ratehist.History
	InitialOffset   int64
	RecentOutput    []byte
	FormatString    string
}

// NewDisplay builds a Display with a rate-history ring sized for
// windowSeconds.
func NewDisplay(windowSeconds float64) *Display {
	return &Display{
		Visible: true,
		History: ratehist.New(windowSeconds),
	}
}

// Cursor groups the multi-instance coordinator's per-process bookkeeping;
// the cross-process shared record itself lives in internal/cursor.
type Cursor struct {
	ShmID          int
	ProcessCount   int
	PeakCount      int
	LastTopRow     int
	OwnYOffset     int
	ReinitCounter  int
	IPCDisabled    bool
	LockPath       string
	StartRow       int
}

// Transfer groups the buffer and per-iteration bookkeeping for the
// transfer engine.
type Transfer struct {
	Buffer              []byte
	ReadPos             int64
	WritePos            int64
	LastFD              int
	ErrorsInARow        int
	ErrorWarningShown   bool
	ZeroCopyPoisonedFD  int
	ZeroCopyUsedLast    bool
	BytesPermitted      int64
	BytesWrittenThisIte int64
	RateLimitTarget     float64
}

// State is the single per-process state record, also cloned (one per
// watched fd) in watch-pid mode.
type State struct {
	Status   Status
	Files    Files
	Control  Control
	Flag     Flag
	Signal   Signal
	Display  *Display
	Cursor   Cursor
	Transfer Transfer
}

// New builds a State with sane zero-configuration defaults.
func New(progName string) *State {
	s := &State{}
	s.Status.ProgName = progName
	s.Control.Interval = 1
	s.Control.AverageRateWindow = 10
	s.Control.TargetBufferSize = 400 * 1024
	s.Transfer.ZeroCopyPoisonedFD = -1
	s.Transfer.LastFD = -1
	s.Display = NewDisplay(s.Control.AverageRateWindow)
	return s
}

// Clone produces a value-copy of s suitable for a watched-fd record: the
// Display ring and Transfer buffer are independently allocated, never
// shared, matching spec.md DESIGN NOTES §9's "model as value-copy at clone
// time, not as a back-pointer".
func (s *State) Clone() *State {
	clone := *s
	clone.Display = NewDisplay(s.Control.AverageRateWindow)
	clone.Transfer = Transfer{ZeroCopyPoisonedFD: -1, LastFD: -1}
	return &clone
}
