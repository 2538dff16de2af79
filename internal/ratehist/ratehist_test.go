package ratehist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowToLengthInterval(t *testing.T) {
	h := New(30)
	assert.Len(t, h.entries, 7) // 30/5+1
	assert.Equal(t, 5.0, h.interval)

	h2 := New(10)
	assert.Len(t, h2.entries, 11) // 10+1
	assert.Equal(t, 1.0, h2.interval)
}

func TestAverageWithSingleSample(t *testing.T) {
	h := New(10)
	h.Add(1, 100)
	assert.Equal(t, 42.0, h.Average(42.0))
}

func TestAverageSmoothsOverWindow(t *testing.T) {
	h := New(10)
	h.Add(0, 0)
	h.Add(1, 100)
	h.Add(2, 300)
	avg := h.Average(0)
	assert.InDelta(t, 150.0, avg, 1e-9)
}

func TestRingOverflowAdvancesHead(t *testing.T) {
	h := New(3) // length 4
	for i := 0; i < 10; i++ {
		h.Add(float64(i), int64(i)*10)
	}
	samples := h.Samples()
	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i].Elapsed, samples[i-1].Elapsed)
		assert.GreaterOrEqual(t, samples[i].Total, samples[i-1].Total)
	}
	assert.LessOrEqual(t, len(samples), 4)
}

func TestSkipsSamplesWithinInterval(t *testing.T) {
	h := New(10) // interval 1s
	h.Add(0, 0)
	h.Add(0.5, 50)
	assert.Equal(t, 1, h.Len())
}
