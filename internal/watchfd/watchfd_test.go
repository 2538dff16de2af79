package watchfd

import (
	"bytes"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepin-community/pv/internal/state"
)

func TestNewAndTickOnRegularFile(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procwatch is only implemented for linux")
	}

	f, err := os.CreateTemp(t.TempDir(), "watchfd")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("0123456789")
	require.NoError(t, err)

	st := state.New("pv")
	st.Control.Width = 80

	var out bytes.Buffer
	w, err := New(st, os.Getpid(), int(f.Fd()), &out)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.Control.Size)

	ok := w.Tick(false)
	assert.True(t, ok)
	assert.NotEmpty(t, out.String())
}

func TestTickReturnsFalseOnceFDGone(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procwatch is only implemented for linux")
	}

	f, err := os.CreateTemp(t.TempDir(), "watchfd")
	require.NoError(t, err)
	_, err = f.WriteString("hi")
	require.NoError(t, err)

	st := state.New("pv")
	st.Control.Width = 80

	var out bytes.Buffer
	w, err := New(st, os.Getpid(), int(f.Fd()), &out)
	require.NoError(t, err)

	f.Close()
	ok := w.Tick(true)
	assert.False(t, ok)
}
