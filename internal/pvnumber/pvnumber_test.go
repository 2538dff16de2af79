package pvnumber

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSizeSuffixes(t *testing.T) {
	assert.EqualValues(t, 1536, ParseSize("1.5k"))
	assert.EqualValues(t, 2097152, ParseSize("2M"))
	assert.Equal(t, ParseSize("1 TiB"), ParseSize("1T"))
	assert.EqualValues(t, 1024, ParseSize("1K"))
	assert.EqualValues(t, 0, ParseSize(""))
}

func TestParseSizeNoSuffix(t *testing.T) {
	assert.EqualValues(t, 12345, ParseSize("12345"))
}

func TestParseSizeSkipsLeadingJunk(t *testing.T) {
	assert.EqualValues(t, 42, ParseSize("abc42"))
}

func TestParseInterval(t *testing.T) {
	assert.InDelta(t, 1.5, ParseInterval("1.5"), 1e-9)
	assert.InDelta(t, 2.0, ParseInterval("2"), 1e-9)
}

func TestParseCountNonNegative(t *testing.T) {
	assert.Equal(t, 80, ParseCount("80"))
}

func TestCheckInteger(t *testing.T) {
	assert.True(t, Check("1024", Integer))
	assert.True(t, Check("1K", Integer))
	assert.False(t, Check("1.5", Integer))
	assert.False(t, Check("1X", Integer))
}

func TestCheckDouble(t *testing.T) {
	assert.True(t, Check("1.5", Double))
	assert.False(t, Check("1K", Double))
}

func TestParseSizeStrictRejectsGarbage(t *testing.T) {
	_, err := ParseSizeStrict("nope")
	assert.ErrorIs(t, err, ErrInvalidNumber)
}
