package cursor

import "testing"

func TestParseCPR(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"\x1b[24;1R", 24},
		{"\x1b[1;1R", 1},
		{"garbage", 0},
		{"", 0},
	}
	for _, tc := range cases {
		got := parseCPR([]byte(tc.in))
		if got != tc.want {
			t.Errorf("parseCPR(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestLockFilePath(t *testing.T) {
	got := lockFilePath("/dev/pts/3")
	if got == "" {
		t.Fatal("expected non-empty lock path")
	}
	if got[:5] != "/tmp/" {
		t.Errorf("lock path %q should live under /tmp", got)
	}
}

func TestTopmostRoundTrip(t *testing.T) {
	c := &Coordinator{shared: make([]byte, sharedStateSize)}
	c.setTopmost(42)
	if got := c.topmost(); got != 42 {
		t.Errorf("topmost() = %d, want 42", got)
	}
	c.setTopmost(-1)
	if got := c.topmost(); got != -1 {
		t.Errorf("topmost() = %d, want -1", got)
	}
}

func TestTOSTOPAddedRoundTrip(t *testing.T) {
	c := &Coordinator{shared: make([]byte, sharedStateSize)}
	if c.tostopAdded() {
		t.Fatal("expected false initially")
	}
	c.setTOSTOPAdded(true)
	if !c.tostopAdded() {
		t.Fatal("expected true after set")
	}
}

func TestNeedsReinitSaturatesAtThree(t *testing.T) {
	c := &Coordinator{}
	c.NeedsReinit()
	c.NeedsReinit()
	c.NeedsReinit()
	if c.NeedReinit != 3 {
		t.Errorf("NeedReinit = %d, want saturated at 3", c.NeedReinit)
	}
}
