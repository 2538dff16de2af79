package watchpid

import (
	"bytes"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepin-community/pv/internal/state"
)

func TestScanDiscoversRegularFileFDs(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procwatch is only implemented for linux")
	}

	f, err := os.CreateTemp(t.TempDir(), "watchpid")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("abcdef")
	require.NoError(t, err)

	tpl := state.New("pv")
	tpl.Control.Width = 80

	var out bytes.Buffer
	d := New(os.Getpid(), tpl, &out)

	require.NoError(t, d.Scan())
	assert.True(t, d.Active())
	assert.Contains(t, d.fdToSlot, int(f.Fd()))
}

func TestScanIsIdempotentForKnownFDs(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procwatch is only implemented for linux")
	}

	f, err := os.CreateTemp(t.TempDir(), "watchpid")
	require.NoError(t, err)
	defer f.Close()

	tpl := state.New("pv")
	var out bytes.Buffer
	d := New(os.Getpid(), tpl, &out)

	require.NoError(t, d.Scan())
	firstCount := len(d.slots)
	require.NoError(t, d.Scan())
	assert.Equal(t, firstCount, len(d.slots))
}

func TestTickDropsClosedFD(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procwatch is only implemented for linux")
	}

	f, err := os.CreateTemp(t.TempDir(), "watchpid")
	require.NoError(t, err)
	_, err = f.WriteString("xy")
	require.NoError(t, err)

	tpl := state.New("pv")
	tpl.Control.Width = 80
	var out bytes.Buffer
	d := New(os.Getpid(), tpl, &out)
	require.NoError(t, d.Scan())
	require.True(t, d.Active())

	f.Close()
	d.Tick()
	assert.False(t, d.Active())
}

func TestReuseOrAppendSlotReusesInactive(t *testing.T) {
	d := &Dashboard{fdToSlot: make(map[int]int)}
	d.slots = []slot{{fd: 1, active: false}, {fd: 2, active: true}}

	idx := d.reuseOrAppendSlot(slot{fd: 3, active: true})
	assert.Equal(t, 0, idx)
	assert.Equal(t, 3, d.slots[0].fd)
	assert.Len(t, d.slots, 2)
}
