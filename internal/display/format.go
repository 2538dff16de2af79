// Package display implements the format-string → segment-list → rendered
// line pipeline described in spec.md §4.5: SI-scaled rate/size formatting,
// the progress bar (known and unknown size), ETA, and the bounded set of
// scratch-buffer components, composed into one terminal-width-bounded
// line per tick.
package display

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

// SegmentKind identifies what a parsed format segment renders.
type SegmentKind int

const (
	SegLiteral SegmentKind = iota
	SegName
	SegBytes
	SegBufferPct
	SegElapsed
	SegRate
	SegAverageRate
	SegProgress
	SegETA
	SegETAAbsolute
	SegLastBytes
	SegPercentLiteral
)

// Segment is one entry in the parsed format: either a literal slice of the
// original format string, or a component reference. LastBytesN carries the
// "%<N>A" width for SegLastBytes.
type Segment struct {
	Kind       SegmentKind
	Literal    string
	LastBytesN int
}

// Format is the parsed, ordered segment list plus a quick lookup of which
// components are actually used (so the renderer skips computing unused
// ones), matching display.c's "required" bitset.
type Format struct {
	Segments []Segment
	Uses     map[SegmentKind]bool
}

// Parse pre-parses a format string once into an ordered segment list. An
// unrecognised "%x" token is kept as a two-character literal, the same
// lenient behaviour as the original (which simply emits the percent sign
// and the following character verbatim).
func Parse(formatStr string) *Format {
	f := &Format{Uses: map[SegmentKind]bool{}}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			f.Segments = append(f.Segments, Segment{Kind: SegLiteral, Literal: lit.String()})
			lit.Reset()
		}
	}

	runes := []rune(formatStr)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i+1 >= len(runes) {
			lit.WriteRune(runes[i])
			continue
		}

		// Look for a "%<digits><letter>" form first (only %A uses this).
		j := i + 1
		digitStart := j
		for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
			j++
		}
		if j < len(runes) && j > digitStart && runes[j] == 'A' {
			n, _ := strconv.Atoi(string(runes[digitStart:j]))
			flush()
			f.Segments = append(f.Segments, Segment{Kind: SegLastBytes, LastBytesN: n})
			f.Uses[SegLastBytes] = true
			i = j
			continue
		}

		tok := runes[i+1]
		kind, ok := tokenKind(tok)
		if !ok {
			lit.WriteRune(runes[i])
			lit.WriteRune(tok)
			i++
			continue
		}
		flush()
		if kind == SegPercentLiteral {
			f.Segments = append(f.Segments, Segment{Kind: SegLiteral, Literal: "%"})
		} else {
			f.Segments = append(f.Segments, Segment{Kind: kind})
			f.Uses[kind] = true
		}
		i++
	}
	flush()
	return f
}

func tokenKind(tok rune) (SegmentKind, bool) {
	switch tok {
	case 'N':
		return SegName, true
	case 'b':
		return SegBytes, true
	case 'T':
		return SegBufferPct, true
	case 't':
		return SegElapsed, true
	case 'r':
		return SegRate, true
	case 'a':
		return SegAverageRate, true
	case 'p':
		return SegProgress, true
	case 'e':
		return SegETA, true
	case 'I':
		return SegETAAbsolute, true
	case '%':
		return SegPercentLiteral, true
	default:
		return 0, false
	}
}

// segmentWidth returns the display column width of s.
func segmentWidth(s string) int {
	return runewidth.StringWidth(s)
}
