package pvstring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", PadRight("ab", 5))
	assert.Equal(t, "abcdef", PadRight("abcdef", 5))
}

func TestPadLeft(t *testing.T) {
	assert.Equal(t, "   ab", PadLeft("ab", 5))
}

func TestMiddleEllipsisShort(t *testing.T) {
	assert.Equal(t, "short", MiddleEllipsis("short", 20))
}

func TestMiddleEllipsisLong(t *testing.T) {
	result := MiddleEllipsis("this-is-a-very-long-filename.txt", 12)
	assert.LessOrEqual(t, countRunes(result), 12)
	assert.Contains(t, result, "…")
}

func TestReverseIndexByte(t *testing.T) {
	buf := []byte("abc\ndef\nghi")
	assert.Equal(t, 7, ReverseIndexByte(buf, len(buf), '\n'))
	assert.Equal(t, 3, ReverseIndexByte(buf, 6, '\n'))
	assert.Equal(t, -1, ReverseIndexByte(buf, 3, '\n'))
}

func countRunes(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
