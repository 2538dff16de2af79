package remote

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPeeDeeP/xdg"
	"github.com/imdario/mergo"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/deepin-community/pv/internal/state"
)

// wireMessage is the fixed-width, binary.Write-able form of Message. Field
// order matches struct remote_msg in the control-file protocol this
// package is grounded on, so a stale control file from an old run decodes
// the same way every time.
type wireMessage struct {
	Progress          uint8
	Timer             uint8
	ETA               uint8
	ETAAbsolute       uint8
	Rate              uint8
	AverageRate       uint8
	Bytes             uint8
	BufferPercent     uint8
	_                 [0]byte
	LastWritten       int64
	RateLimit         int64
	BufferSize        int64
	Size              int64
	Interval          float64
	Width             int32
	Height            int32
	WidthSetManually  uint8
	HeightSetManually uint8
	_                 [6]byte
	Name              [256]byte
	Format            [256]byte
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (m *Message) toWire() wireMessage {
	var w wireMessage
	w.Progress = boolToByte(m.Progress)
	w.Timer = boolToByte(m.Timer)
	w.ETA = boolToByte(m.ETA)
	w.ETAAbsolute = boolToByte(m.ETAAbsolute)
	w.Rate = boolToByte(m.Rate)
	w.AverageRate = boolToByte(m.AverageRate)
	w.Bytes = boolToByte(m.Bytes)
	w.BufferPercent = boolToByte(m.BufferPercent)
	w.LastWritten = int64(m.LastWritten)
	w.RateLimit = m.RateLimit
	w.BufferSize = m.BufferSize
	w.Size = m.Size
	w.Interval = m.Interval
	w.Width = int32(m.Width)
	w.Height = int32(m.Height)
	w.WidthSetManually = boolToByte(m.WidthSetManually)
	w.HeightSetManually = boolToByte(m.HeightSetManually)
	copy(w.Name[:], m.Name)
	copy(w.Format[:], m.Format)
	return w
}

func (w wireMessage) toMessage() Message {
	return Message{
		Progress:          w.Progress != 0,
		Timer:             w.Timer != 0,
		ETA:               w.ETA != 0,
		ETAAbsolute:       w.ETAAbsolute != 0,
		Rate:              w.Rate != 0,
		AverageRate:       w.AverageRate != 0,
		Bytes:             w.Bytes != 0,
		BufferPercent:     w.BufferPercent != 0,
		LastWritten:       int(w.LastWritten),
		RateLimit:         w.RateLimit,
		BufferSize:        w.BufferSize,
		Size:              w.Size,
		Interval:          w.Interval,
		Width:             int(w.Width),
		Height:            int(w.Height),
		WidthSetManually:  w.WidthSetManually != 0,
		HeightSetManually: w.HeightSetManually != 0,
		Name:              cString(w.Name[:]),
		Format:            cString(w.Format[:]),
	}
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// killFn sends sig to pid, defaulting to a real signal delivery. Tests
// override it so a unit test can exercise Set/Consume's bookkeeping
// without actually signalling a live process (in particular, its own test
// process — self-delivering SIGUSR2 has no installed handler and would
// terminate it). Mirrors the teacher's injectable `command`/`getenv` funcs
// on OSCommand.
var killFn = unix.Kill

// controlFileName builds the "pv.remote.<pid>" basename the protocol uses,
// keyed by the PID of the process that will write the file.
func controlFileName(pid int) string {
	return "pv.remote." + strconv.Itoa(pid)
}

// controlFileDirs returns the candidate directories to hold the control
// file, in the same preference order as the original two-tier fallback:
// the XDG runtime directory (normally /run/user/<uid>) first, then a
// per-user cache directory as the durable fallback for systems with no
// usable runtime directory.
func controlFileDirs() []string {
	var dirs []string
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		dirs = append(dirs, runtimeDir)
	} else {
		dirs = append(dirs, fmt.Sprintf("/run/user/%d", os.Geteuid()))
	}
	dirs = append(dirs, xdg.New("", "pv").CacheHome())
	return dirs
}

// controlFilePath resolves the path to use for pid, creating the holding
// directory (mode 0700) if it does not already exist. It mirrors
// pv__control_file's "try /run/user/<uid>, fall back to $HOME/.pv" logic
// but expressed as directory probing rather than open-and-retry, since Go
// makes an existence check cheap up front.
func controlFilePath(pid int) (string, error) {
	name := controlFileName(pid)
	var lastErr error
	for _, dir := range controlFileDirs() {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			lastErr = err
			continue
		}
		return filepath.Join(dir, name), nil
	}
	if lastErr == nil {
		lastErr = xerrors.New("no usable control directory")
	}
	return "", lastErr
}

// Set implements the sending half of the remote-reconfiguration protocol:
// write msg to a control file named after our own PID, signal targetPID,
// and wait up to the protocol's 1.1-second window for an acknowledgement.
//
// Go's os/signal cannot recover a SIGUSR2 sender's PID the way the
// original's SA_SIGINFO handler does (see DESIGN.md, "Adaptations forced
// by the Go signal model"), so the acknowledgement wait here accepts any
// USR2 delivery as proof of receipt rather than matching the sender PID.
// That is safe for the expected one-shot, one-at-a-time "pv -R" usage this
// protocol is built for.
func Set(targetPID int, msg Message, ackCh <-chan struct{}) error {
	msg.clampBounds()

	if err := killFn(targetPID, 0); err != nil {
		return xerrors.Errorf("%d: %w", targetPID, err)
	}

	path, err := controlFilePath(os.Getpid())
	if err != nil {
		return xerrors.Errorf("control file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return xerrors.Errorf("control file: %w", err)
	}
	defer os.Remove(path)

	w := msg.toWire()
	if err := binary.Write(f, binary.LittleEndian, &w); err != nil {
		f.Close()
		return xerrors.Errorf("write control file: %w", err)
	}
	if err := f.Close(); err != nil {
		return xerrors.Errorf("close control file: %w", err)
	}

	if err := killFn(targetPID, unix.SIGUSR2); err != nil {
		return xerrors.Errorf("%d: %w", targetPID, err)
	}

	timeout := time.After(1100 * time.Millisecond)
	select {
	case <-ackCh:
		return nil
	case <-timeout:
		return xerrors.Errorf("%d: message not received", targetPID)
	}
}

// listControlFiles returns the PIDs with a pending control file across the
// known control directories, newest first. Because a Go receiver cannot
// learn a SIGUSR2 sender's PID from the signal itself, Consume uses this
// listing instead of a PID handed to it directly by the handler.
func listControlFiles() ([]int, error) {
	type found struct {
		pid     int
		modTime time.Time
	}
	var all []found
	for _, dir := range controlFileDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasPrefix(e.Name(), "pv.remote.") {
				continue
			}
			pidStr := strings.TrimPrefix(e.Name(), "pv.remote.")
			pid, err := strconv.Atoi(pidStr)
			if err != nil {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			all = append(all, found{pid: pid, modTime: info.ModTime()})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].modTime.After(all[j].modTime) })
	pids := make([]int, len(all))
	for i, f := range all {
		pids[i] = f.pid
	}
	return pids, nil
}

// Consume implements the receiving half: find the newest pending control
// file, decode it, remove it, acknowledge the sender, and merge the
// decoded fields into ctl (only fields the sender actually set, following
// the same "nonzero wins" rule as pv_remote_check).
//
// Returns false, nil if there was no pending control file to read.
func Consume(ctl *state.Control) (bool, error) {
	pids, err := listControlFiles()
	if err != nil {
		return false, err
	}
	if len(pids) == 0 {
		return false, nil
	}
	senderPID := pids[0]

	path, err := controlFilePath(senderPID)
	if err != nil {
		return false, xerrors.Errorf("control file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return false, xerrors.Errorf("open control file: %w", err)
	}
	var w wireMessage
	readErr := binary.Read(f, binary.LittleEndian, &w)
	f.Close()
	os.Remove(path)
	if readErr != nil {
		return false, xerrors.Errorf("read control file: %w", readErr)
	}

	if err := killFn(senderPID, unix.SIGUSR2); err != nil {
		// Best-effort: the sender may already have given up waiting.
		_ = err
	}

	msg := w.toMessage()
	applyToControl(ctl, msg)
	return true, nil
}

// applyToControl merges the nonzero/true fields of msg into ctl, mirroring
// pv_remote_check's field-by-field "if msgbuf.X > 0" gate. mergo handles
// the numeric/string fields. Of the display-toggle booleans only Progress
// is applied, OR'd into ForceDisplay; the message's other toggle fields are
// not copied into ctl.
func applyToControl(ctl *state.Control, msg Message) {
	overlay := state.Control{}
	if msg.RateLimit > 0 {
		overlay.RateLimit = msg.RateLimit
	}
	if msg.BufferSize > 0 {
		overlay.TargetBufferSize = msg.BufferSize
	}
	if msg.Size > 0 {
		overlay.Size = msg.Size
	}
	if msg.Interval > 0 {
		overlay.Interval = msg.Interval
	}
	if msg.Width > 0 && msg.WidthSetManually {
		overlay.Width = msg.Width
		overlay.WidthManual = true
	}
	if msg.Height > 0 && msg.HeightSetManually {
		overlay.Height = msg.Height
		overlay.HeightManual = true
	}
	if msg.Format != "" {
		overlay.UserFormat = msg.Format
	}
	if msg.Name != "" {
		overlay.DisplayName = msg.Name
	}

	// overlay is sparse: fields the sender didn't set are left at their
	// Go zero value, and mergo.WithOverride only overwrites ctl's fields
	// where overlay's is non-zero, so untouched fields pass through.
	_ = mergo.Merge(ctl, overlay, mergo.WithOverride)

	ctl.ForceDisplay = msg.Progress || ctl.ForceDisplay
}
