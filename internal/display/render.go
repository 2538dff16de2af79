package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/samber/lo"
)

// Inputs is everything the renderer needs for one tick. It intentionally
// holds only primitive values (no back-reference into state.State), so the
// renderer stays a pure function of its inputs, matching spec.md's
// "component scratch strings, rendered fresh each tick" model.
type Inputs struct {
	Name             string
	Bytes            int64
	BitsMode         bool
	BytesMode        bool // true unless counting lines
	BufferPercentUse int  // -1 means "zero-copy just used" -> "----"
	ElapsedSeconds   float64
	InstantRate      float64
	AverageRate      float64
	Percentage       int // 0-100 when size known, 0-199 wrap otherwise
	SizeKnown        bool
	ETASeconds       float64
	ETAValid         bool
	ETAAbsoluteUnix  int64
	NowUnix          int64
	LastBytesWritten []byte // most recently written bytes, for "%<N>A"
	TerminalWidth    int

	// Final signals the last render after both EOFs: rates become
	// whole-run averages (handled by the caller passing AverageRate into
	// InstantRate too) and the ETA is blanked with spaces rather than
	// omitted, to keep column alignment stable.
	Final bool
}

// Render composes one display line for f using in, truncating to
// in.TerminalWidth and padding with trailing spaces if the new line is
// shorter than prevLen and the terminal has not shrunk (erasing stale
// characters from the previous render), per spec.md §4.5 step 5.
func Render(f *Format, in Inputs, prevLen int, prevWidth int) string {
	rendered := make([]string, len(f.Segments))
	staticWidth := 0

	for i, seg := range f.Segments {
		if seg.Kind == SegProgress {
			continue
		}
		s := renderSegment(seg, in)
		rendered[i] = s
		staticWidth += segmentWidth(s)
	}

	if f.Uses[SegProgress] {
		for i, seg := range f.Segments {
			if seg.Kind != SegProgress {
				continue
			}
			rendered[i] = renderBar(in, staticWidth)
		}
	}

	var out strings.Builder
	for _, s := range rendered {
		out.WriteString(s)
	}
	line := out.String()
	line = pvTruncate(line, in.TerminalWidth)

	if len(line) < prevLen && in.TerminalWidth >= prevWidth {
		pad := prevLen - len(line)
		if pad > 15 {
			pad = 15
		}
		line += strings.Repeat(" ", pad)
	}
	return line
}

func pvTruncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "")
}

func renderSegment(seg Segment, in Inputs) string {
	switch seg.Kind {
	case SegLiteral:
		return seg.Literal
	case SegName:
		return renderName(in.Name)
	case SegBytes:
		return renderBytes(in)
	case SegBufferPct:
		return renderBufferPct(in)
	case SegElapsed:
		return renderElapsed(in.ElapsedSeconds)
	case SegRate:
		if in.Final {
			return FormatRate(in.AverageRate, in.BytesMode)
		}
		return FormatRate(in.InstantRate, in.BytesMode)
	case SegAverageRate:
		return FormatRate(in.AverageRate, in.BytesMode)
	case SegETA:
		return renderETA(in)
	case SegETAAbsolute:
		return renderETAAbsolute(in)
	case SegLastBytes:
		return renderLastBytes(in.LastBytesWritten, seg.LastBytesN)
	default:
		return ""
	}
}

func renderName(name string) string {
	if name == "" {
		return ""
	}
	padded := name
	if runewidth.StringWidth(padded) < 9 {
		padded = strings.Repeat(" ", 9-runewidth.StringWidth(padded)) + padded
	}
	return padded + ":"
}

func renderBytes(in Inputs) string {
	amount := float64(in.Bytes)
	if in.BitsMode {
		amount *= 8
	}
	return FormatCount(amount, in.BytesMode)
}

func renderBufferPct(in Inputs) string {
	if in.BufferPercentUse < 0 {
		return "----"
	}
	return fmt.Sprintf("%3d%%", lo.Clamp(in.BufferPercentUse, 0, 100))
}

func renderElapsed(seconds float64) string {
	total := int64(seconds)
	if total < 0 {
		total = 0
	}
	h := (total / 3600) % 24
	m := (total / 60) % 60
	s := total % 60
	if total > 86400 {
		days := total / 86400
		return fmt.Sprintf("%d:%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d", total/3600, m, s)
}

func renderETA(in Inputs) string {
	if in.Final {
		return strings.Repeat(" ", 8)
	}
	if !in.SizeKnown || !in.ETAValid {
		return strings.Repeat(" ", 8)
	}
	eta := int64(in.ETASeconds)
	if eta < 0 {
		eta = 0
	}
	if eta > 86400 {
		return fmt.Sprintf("ETA %d:%02d:%02d:%02d", eta/86400, (eta/3600)%24, (eta/60)%60, eta%60)
	}
	return fmt.Sprintf("ETA %02d:%02d:%02d", eta/3600, (eta/60)%60, eta%60)
}

func renderETAAbsolute(in Inputs) string {
	if in.Final || !in.SizeKnown || !in.ETAValid {
		return strings.Repeat(" ", 8)
	}
	eta := int64(in.ETASeconds)
	if eta < 0 {
		eta = 0
	}
	target := time.Unix(in.NowUnix+eta, 0).Local()

	// Only include the date if the ETA is more than 6 hours away, matching
	// display.c's PV_COMPONENT_FINETA time_format choice.
	if eta > 6*3600 {
		return "ETA " + target.Format("2006-01-02 15:04:05")
	}
	return "ETA " + target.Format("15:04:05")
}

func renderLastBytes(buf []byte, n int) string {
	if n <= 0 || len(buf) == 0 {
		return strings.Repeat(".", n)
	}
	start := len(buf) - n
	if start < 0 {
		start = 0
	}
	window := buf[start:]
	var b strings.Builder
	for _, c := range window {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	for b.Len() < n {
		b.WriteByte('.')
	}
	return b.String()
}

// renderBar assembles the progress bar component: "[===>   ] NN%" for
// known size, "[   <=>  ]" bouncing for unknown size, dropped entirely
// (empty string) if it would not fit, per spec.md §4.5 step 3.
func renderBar(in Inputs, staticWidth int) string {
	if in.SizeKnown {
		pct := lo.Clamp(in.Percentage, 0, 100)
		pctStr := fmt.Sprintf("%3d%%", pct)
		available := in.TerminalWidth - staticWidth - 3 - len(pctStr)
		if available < 0 {
			available = 0
		}
		barLen := available*pct/100 - 1
		var b strings.Builder
		b.WriteByte('[')
		pad := 0
		for ; pad < barLen && pad < available; pad++ {
			b.WriteByte('=')
		}
		if pad < available {
			b.WriteByte('>')
			pad++
		}
		for ; pad < available; pad++ {
			b.WriteByte(' ')
		}
		b.WriteString("] ")
		b.WriteString(pctStr)
		result := b.String()
		if runewidth.StringWidth(result)+staticWidth > in.TerminalWidth {
			return ""
		}
		return result
	}

	// Unknown size: bounce a "<=>" marker across the bar using the
	// percentage as a sawtooth counter wrapping in [0,200).
	pos := in.Percentage
	if pos > 100 {
		pos = 200 - pos
	}
	available := in.TerminalWidth - staticWidth - 5
	if available < 0 {
		available = 0
	}
	var b strings.Builder
	b.WriteByte('[')
	pad := 0
	lead := available * pos / 100
	for ; pad < lead && pad < available; pad++ {
		b.WriteByte(' ')
	}
	b.WriteString("<=>")
	for ; pad < available; pad++ {
		b.WriteByte(' ')
	}
	b.WriteByte(']')
	result := b.String()
	if runewidth.StringWidth(result)+staticWidth > in.TerminalWidth {
		return ""
	}
	return result
}
