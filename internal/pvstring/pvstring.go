// Package pvstring collects the small, pure string helpers shared by the
// display formatter and the watch-pid name shortener: column-width-aware
// truncation/padding and middle-ellipsis truncation. The C original's
// "bounded concatenation that always terminates the destination" idiom has
// no Go equivalent worth reproducing — Go strings cannot be left
// unterminated or overrun a buffer — so this package only keeps the parts
// of the original string toolkit that still do something in Go: width-
// aware layout.
package pvstring

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/mgutz/str"
)

// PadRight right-pads s with spaces to at least width display columns,
// counting columns (not bytes) the way the display engine must to keep
// output aligned under multi-byte names.
func PadRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// PadLeft right-aligns s to width display columns, used for the "%N" name
// prefix (right-aligned to 9 columns, trailing ":").
func PadLeft(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}

// EllipsisEnd truncates s to at most width display columns, appending "..."
// when it was cut, used for single-line diagnostic messages rather than
// for the display line itself (which uses the column-exact Truncate
// below).
func EllipsisEnd(s string, width int) string {
	return str.Ellipsis(s, width)
}

// Truncate cuts s to at most width display columns, counting runes by their
// terminal column width so double-width characters are not split.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "")
}

// MiddleEllipsis shortens s to at most width display columns by keeping a
// prefix and a suffix and replacing the middle with a single "…", the
// scheme watchpid.c uses for long file names: "prefix…suffix" rather than
// "prefix...". If s already fits, it is returned unchanged.
func MiddleEllipsis(s string, width int) string {
	if width <= 1 || runewidth.StringWidth(s) <= width {
		return s
	}
	const mark = "…"
	markWidth := runewidth.StringWidth(mark)
	budget := width - markWidth
	if budget <= 0 {
		return runewidth.Truncate(mark, width, "")
	}
	prefixWidth := (budget + 1) / 2
	suffixWidth := budget - prefixWidth

	prefix := runewidth.Truncate(s, prefixWidth, "")
	runes := []rune(s)
	suffix := ""
	for i := len(runes); i > 0; i-- {
		candidate := string(runes[i-1:])
		if runewidth.StringWidth(candidate) > suffixWidth {
			break
		}
		suffix = candidate
	}
	return prefix + mark + suffix
}

// ReverseIndexByte finds the last occurrence of c within s[:limit] (limit
// clamped to len(s)), the Go analogue of the original's bounded reverse
// memchr used to find the last record separator in a read buffer.
func ReverseIndexByte(s []byte, limit int, c byte) int {
	if limit > len(s) {
		limit = len(s)
	}
	for i := limit - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
