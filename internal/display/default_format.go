package display

import "strings"

// DefaultFormatOptions mirrors the subset of state.Control flags that
// determine the default format string when the user supplies none.
type DefaultFormatOptions struct {
	Name        bool
	BufferPct   bool
	Timer       bool
	Rate        bool
	AverageRate bool
	Bar         bool
	ETA         bool
	ETAAbsolute bool
	Bytes       bool
	Numeric     bool
}

// BuildDefaultFormat assembles the default format string from boolean
// flags, the same composition order as the non-numeric default in
// options.c: name, bytes, buffer%, timer, rate, average-rate, bar, eta.
func BuildDefaultFormat(o DefaultFormatOptions) string {
	var parts []string
	if o.Name {
		parts = append(parts, "%N")
	}
	if o.Bytes {
		parts = append(parts, "%b")
	}
	if o.BufferPct {
		parts = append(parts, "%T")
	}
	if o.Timer {
		parts = append(parts, "%t")
	}
	if o.Rate {
		parts = append(parts, "%r")
	}
	if o.AverageRate {
		parts = append(parts, "%a")
	}
	if o.Bar {
		parts = append(parts, "%p")
	}
	if o.ETA {
		parts = append(parts, "%e")
	}
	if o.ETAAbsolute {
		parts = append(parts, "%I")
	}
	if len(parts) == 0 {
		return "%p %b %t %r"
	}
	return strings.Join(parts, " ")
}

// RenderNumeric implements numeric mode (spec.md §4.5): bypasses the
// format engine entirely and emits either an integer percentage or the
// byte/bit count, one line, optionally prefixed with elapsed seconds.
func RenderNumeric(in Inputs, withTimer bool) string {
	var b strings.Builder
	if withTimer {
		b.WriteString(formatFixed(in.ElapsedSeconds, 4))
		b.WriteByte(' ')
	}
	if in.SizeKnown {
		pct := in.Percentage
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		b.WriteString(itoa(int64(pct)))
	} else {
		amount := float64(in.Bytes)
		if in.BitsMode {
			amount *= 8
		}
		b.WriteString(itoa(int64(amount)))
	}
	return b.String()
}
