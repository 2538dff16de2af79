package pvtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddSubRoundTrip(t *testing.T) {
	t1 := Now()
	d := 3700 * time.Millisecond
	t2 := t1.Add(d)
	assert.Equal(t, d, t2.Sub(t1))
}

func TestCompareAntisymmetric(t *testing.T) {
	t1 := Now()
	t2 := t1.Add(time.Second)
	assert.Equal(t, -1, t1.Compare(t2))
	assert.Equal(t, 1, t2.Compare(t1))
	assert.Equal(t, 0, t1.Compare(t1))
}

func TestSubSaturatesAtZero(t *testing.T) {
	earlier := Now()
	later := earlier.Add(time.Second)
	assert.Equal(t, time.Duration(0), earlier.Sub(later))
}

func TestZeroInstantTreatedAsZero(t *testing.T) {
	var zero Instant
	assert.True(t, zero.Zero())
	assert.Equal(t, time.Duration(0), zero.Sub(Now()))
}
