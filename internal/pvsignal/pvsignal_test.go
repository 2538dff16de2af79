package pvsignal

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deepin-community/pv/internal/pvtime"
	"github.com/deepin-community/pv/internal/state"
)

func TestInstallOnNonTTYDoesNotPanic(t *testing.T) {
	st := state.New("pv")
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	defer r.Close()
	defer w.Close()

	h := Install(st, int(w.Fd()))
	defer h.Stop()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, st.Signal.TOSTOPWasAdded)
}

func TestStopTimeAccounting(t *testing.T) {
	st := state.New("pv")
	t1 := pvtime.Now()
	st.Signal.RecordTSTP(t1)

	time.Sleep(20 * time.Millisecond)
	tstp, ok := st.Signal.TSTPInstant()
	assert.True(t, ok)

	elapsed := pvtime.Now().Sub(tstp)
	st.Signal.StoppedOffset += int64(elapsed)
	st.Signal.ClearTSTP()

	assert.Greater(t, st.Signal.StoppedOffset, int64(0))
	_, ok = st.Signal.TSTPInstant()
	assert.True(t, ok) // cleared value is zero Instant, not absent
}

func TestTriggerExitFlag(t *testing.T) {
	st := state.New("pv")
	assert.False(t, st.Flag.TriggerExit())
	st.Flag.SetTriggerExit()
	assert.True(t, st.Flag.TriggerExit())
}

func TestReparseDisplayIsOneShot(t *testing.T) {
	st := state.New("pv")
	st.Flag.SetReparseDisplay()
	assert.True(t, st.Flag.ReparseDisplay())
	assert.False(t, st.Flag.ReparseDisplay())
}
