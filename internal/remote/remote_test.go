package remote

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/deepin-community/pv/internal/state"
)

func TestWireRoundTrip(t *testing.T) {
	msg := Message{
		Progress:          true,
		Rate:              true,
		LastWritten:       12,
		RateLimit:         4096,
		BufferSize:        8192,
		Size:              1 << 20,
		Interval:          0.5,
		Width:             120,
		Height:            40,
		WidthSetManually:  true,
		HeightSetManually: false,
		Name:              "example",
		Format:            "%p %r",
	}

	w := msg.toWire()
	got := w.toMessage()

	assert.Equal(t, msg.Progress, got.Progress)
	assert.Equal(t, msg.Rate, got.Rate)
	assert.Equal(t, msg.LastWritten, got.LastWritten)
	assert.Equal(t, msg.RateLimit, got.RateLimit)
	assert.Equal(t, msg.BufferSize, got.BufferSize)
	assert.Equal(t, msg.Size, got.Size)
	assert.Equal(t, msg.Interval, got.Interval)
	assert.Equal(t, msg.Width, got.Width)
	assert.Equal(t, msg.Height, got.Height)
	assert.Equal(t, msg.WidthSetManually, got.WidthSetManually)
	assert.Equal(t, msg.HeightSetManually, got.HeightSetManually)
	assert.Equal(t, msg.Name, got.Name)
	assert.Equal(t, msg.Format, got.Format)
}

func TestCStringStopsAtNUL(t *testing.T) {
	buf := make([]byte, 8)
	copy(buf, "hi")
	assert.Equal(t, "hi", cString(buf))
}

func TestClampBounds(t *testing.T) {
	m := Message{Width: 0, Height: 0, Interval: 0.01}
	m.clampBounds()
	assert.Equal(t, 80, m.Width)
	assert.Equal(t, 25, m.Height)
	assert.Equal(t, 0.1, m.Interval)

	m2 := Message{Width: 5_000_000, Height: 5_000_000, Interval: 5000}
	m2.clampBounds()
	assert.Equal(t, 999999, m2.Width)
	assert.Equal(t, 999999, m2.Height)
	assert.Equal(t, float64(600), m2.Interval)
}

func TestControlFilePathUsesRuntimeDirWhenSet(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	path, err := controlFilePath(4321)
	require.NoError(t, err)
	assert.Equal(t, dir+"/pv.remote.4321", path)
}

func TestSetAndConsumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	originalKillFn := killFn
	var signalled []int
	killFn = func(pid int, _ unix.Signal) error {
		signalled = append(signalled, pid)
		return nil
	}
	t.Cleanup(func() { killFn = originalKillFn })

	senderPID := os.Getpid()
	msg := Message{
		Progress:  true,
		Rate:      true,
		RateLimit: 2048,
		Interval:  2,
		Format:    "%p",
	}

	// Write the control file directly (bypassing the liveness check and
	// the SIGUSR2 send/wait loop, which need two real processes).
	w := msg.toWire()
	path, err := controlFilePath(senderPID)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	require.NoError(t, err)
	require.NoError(t, binary.Write(f, binary.LittleEndian, &w))
	require.NoError(t, f.Close())

	ctl := &state.Control{}
	ok, err := Consume(ctl)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2048), ctl.RateLimit)
	assert.Equal(t, 2.0, ctl.Interval)
	assert.Equal(t, "%p", ctl.UserFormat)
	assert.True(t, ctl.ForceDisplay)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "control file should be removed after consumption")
	assert.Equal(t, []int{senderPID}, signalled)
}

func TestConsumeWithNothingPendingReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	ctl := &state.Control{}
	ok, err := Consume(ctl)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetWritesFileAndAcksBeforeTimeout(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	originalKillFn := killFn
	var delivered []struct {
		pid int
		sig unix.Signal
	}
	killFn = func(pid int, sig unix.Signal) error {
		delivered = append(delivered, struct {
			pid int
			sig unix.Signal
		}{pid, sig})
		return nil
	}
	t.Cleanup(func() { killFn = originalKillFn })

	ack := make(chan struct{}, 1)
	ack <- struct{}{}

	err := Set(os.Getpid(), Message{Rate: true, RateLimit: 512}, ack)
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, 0, int(delivered[0].sig)) // liveness probe
	assert.Equal(t, unix.SIGUSR2, delivered[1].sig)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "control file should be removed once sent")
}

func TestSetTimesOutWithoutAck(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	originalKillFn := killFn
	killFn = func(pid int, sig unix.Signal) error { return nil }
	t.Cleanup(func() { killFn = originalKillFn })

	ack := make(chan struct{})
	err := Set(os.Getpid(), Message{}, ack)
	assert.Error(t, err)
}

func TestApplyToControlLeavesUnsetFieldsAlone(t *testing.T) {
	ctl := &state.Control{RateLimit: 999, Interval: 3}
	applyToControl(ctl, Message{})
	assert.Equal(t, int64(999), ctl.RateLimit)
	assert.Equal(t, 3.0, ctl.Interval)
}
