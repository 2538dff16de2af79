package procwatch

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliveForSelf(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
}

func TestAliveForUnusedPID(t *testing.T) {
	assert.False(t, Alive(1<<30))
}

func TestProbeAndPositionOnOwnPipe(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("fdinfo-based probing is only implemented for linux")
	}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	info, err := Probe(os.Getpid(), int(r.Fd()))
	if err != nil {
		// Pipes aren't a regular file or block device, so Probe legitimately
		// reports ErrUnsupported for this fd type; confirm that's the reason.
		assert.ErrorIs(t, err, ErrUnsupported)
		return
	}
	_ = info
}

func TestListFDsIncludesOwnStdFDs(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("/proc/<pid>/fd listing is only implemented for linux")
	}

	fds, err := ListFDs(os.Getpid())
	require.NoError(t, err)
	assert.Contains(t, fds, 0)
	assert.Contains(t, fds, 1)
	assert.Contains(t, fds, 2)
}

func TestPositionOnRegularFile(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("fdinfo-based position reading is only implemented for linux")
	}

	f, err := os.CreateTemp(t.TempDir(), "procwatch")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("0123456789")
	require.NoError(t, err)
	_, err = f.Seek(4, 0)
	require.NoError(t, err)

	info, err := Probe(os.Getpid(), int(f.Fd()))
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)

	pos := Position(info)
	assert.Equal(t, int64(4), pos)
}
