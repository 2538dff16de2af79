package state

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deepin-community/pv/internal/pvtime"
)

func TestNewAppliesSaneDefaults(t *testing.T) {
	s := New("pv")
	assert.Equal(t, "pv", s.Status.ProgName)
	assert.Equal(t, 1.0, s.Control.Interval)
	assert.Equal(t, 10.0, s.Control.AverageRateWindow)
	assert.EqualValues(t, 400*1024, s.Control.TargetBufferSize)
	assert.Equal(t, -1, s.Transfer.ZeroCopyPoisonedFD)
	assert.Equal(t, -1, s.Transfer.LastFD)
	assert.NotNil(t, s.Display)
	assert.True(t, s.Display.Visible)
}

func TestCloneIndependentDisplayAndTransfer(t *testing.T) {
	s := New("pv")
	s.Display.History.Add(1, 100)
	s.Transfer.ReadPos = 42
	s.Transfer.Buffer = []byte{1, 2, 3}

	clone := s.Clone()
	clone.Transfer.ReadPos = 99
	clone.Display.LastRate = 7

	assert.Equal(t, int64(42), s.Transfer.ReadPos)
	assert.Equal(t, 0.0, s.Display.LastRate)
	assert.Equal(t, -1, clone.Transfer.ZeroCopyPoisonedFD)
	assert.Equal(t, -1, clone.Transfer.LastFD)
	assert.Nil(t, clone.Transfer.Buffer)
}

func TestCloneCopiesControlByValue(t *testing.T) {
	s := New("pv")
	s.Control.DisplayName = "original"

	clone := s.Clone()
	clone.Control.DisplayName = "cloned"

	assert.Equal(t, "original", s.Control.DisplayName)
	assert.Equal(t, "cloned", clone.Control.DisplayName)
}

func TestFlagRoundTrip(t *testing.T) {
	var f Flag
	assert.False(t, f.TriggerExit())
	f.SetTriggerExit()
	assert.True(t, f.TriggerExit())

	assert.False(t, f.ReparseDisplay())
	f.SetReparseDisplay()
	assert.True(t, f.ReparseDisplay())
	assert.False(t, f.ReparseDisplay(), "ReparseDisplay should consume the flag")

	assert.False(t, f.TerminalResized())
	f.SetTerminalResized()
	assert.True(t, f.TerminalResized())
	assert.False(t, f.TerminalResized())
}

func TestSignalUSR2TakeIsOneShot(t *testing.T) {
	var s Signal
	_, ok := s.TakeUSR2()
	assert.False(t, ok)

	s.SetUSR2Received(1234)
	pid, ok := s.TakeUSR2()
	assert.True(t, ok)
	assert.EqualValues(t, 1234, pid)

	_, ok = s.TakeUSR2()
	assert.False(t, ok)
}

func TestSignalTSTPRoundTrip(t *testing.T) {
	var s Signal
	_, ok := s.TSTPInstant()
	assert.False(t, ok)

	now := pvtime.Now()
	s.RecordTSTP(now)
	got, ok := s.TSTPInstant()
	assert.True(t, ok)
	assert.Equal(t, 0, got.Compare(now))

	s.ClearTSTP()
	got, ok = s.TSTPInstant()
	assert.True(t, ok)
	assert.True(t, got.Zero())
}
