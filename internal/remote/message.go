// Package remote implements the remote-reconfiguration channel described
// in spec.md §4.9: a fixed-layout message record written to a per-sender
// control file, with SIGUSR2 used to signal "message ready" and "message
// consumed". The control-file naming and fallback-directory protocol is
// taken directly from src/main/remote.c; the directory-resolution idiom
// (XDG-correct instead of hand-rolled /run/user/<uid>) is grounded on the
// teacher's use of OpenPeeDeeP/xdg in pkg/config/app_config.go.
package remote

// Message is the fixed subset of control fields carried over the control
// channel, per spec.md §4.9.
type Message struct {
	Progress         bool
	Timer            bool
	ETA              bool
	ETAAbsolute      bool
	Rate             bool
	AverageRate      bool
	Bytes            bool
	BufferPercent    bool
	LastWritten      int
	RateLimit        int64
	BufferSize       int64
	Size             int64
	Interval         float64
	Width            int
	Height           int
	WidthSetManually  bool
	HeightSetManually bool
	Name             string
	Format           string
}

// clampBounds applies the same sanity clamps pv_remote_set does before
// sending: width/height default to 80/25 if unset, clamp to 999999,
// interval clamps to [0.1, 600] when nonzero.
func (m *Message) clampBounds() {
	if m.Width < 1 {
		m.Width = 80
	}
	if m.Height < 1 {
		m.Height = 25
	}
	if m.Width > 999999 {
		m.Width = 999999
	}
	if m.Height > 999999 {
		m.Height = 999999
	}
	if m.Interval > 0 && m.Interval < 0.1 {
		m.Interval = 0.1
	}
	if m.Interval > 600 {
		m.Interval = 600
	}
}
