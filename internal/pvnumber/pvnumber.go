// Package pvnumber parses the size, interval, and count strings accepted on
// the command line and by the remote-reconfigure message record.
package pvnumber

import (
	"strings"

	goerrors "github.com/go-errors/errors"
)

// NumType distinguishes the two validation grammars accepted by Check:
// integers (optionally with a size suffix) and plain doubles (no suffix).
type NumType int

const (
	Integer NumType = iota
	Double
)

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// ParseSize parses a size string: optional leading junk, an integer part,
// an optional '.' or ',' fractional part capped at four digits of
// precision, optional whitespace, and an optional k/m/g/t suffix
// interpreted as a left shift of 10/20/30/40 bits. Shifts are applied in
// chunks of at most 30 bits to avoid intermediate overflow, matching
// number.c's pv_getnum_size exactly.
func ParseSize(s string) int64 {
	i := 0
	n := len(s)

	for i < n && !isDigit(s[i]) {
		i++
	}

	var integral int64
	for i < n && isDigit(s[i]) {
		integral = integral*10 + int64(s[i]-'0')
		i++
	}

	var fractional int64
	fractionalDivisor := int64(1)
	if i < n && (s[i] == '.' || s[i] == ',') {
		i++
		for i < n && isDigit(s[i]) {
			if fractionalDivisor < 10000 {
				fractional = fractional*10 + int64(s[i]-'0')
				fractionalDivisor *= 10
			}
			i++
		}
	}

	shift := 0
	if i < n {
		for i < n && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i < n {
			switch s[i] {
			case 'k', 'K':
				shift = 10
			case 'm', 'M':
				shift = 20
			case 'g', 'G':
				shift = 30
			case 't', 'T':
				shift = 40
			}
		}
	}

	for shift > 0 {
		shiftBy := shift
		if shiftBy > 30 {
			shiftBy = 30
		}
		integral <<= uint(shiftBy)
		fractional <<= uint(shiftBy)
		shift -= shiftBy
	}

	fractional /= fractionalDivisor
	return integral + fractional
}

// ParseInterval parses a positive decimal real with no suffix, used for
// --interval, --delay-start, and --average-rate-window.
func ParseInterval(s string) float64 {
	i := 0
	n := len(s)
	for i < n && !isDigit(s[i]) {
		i++
	}

	var result float64
	for i < n && isDigit(s[i]) {
		result = result*10 + float64(s[i]-'0')
		i++
	}

	if i >= n || (s[i] != '.' && s[i] != ',') {
		return result
	}
	i++

	step := 1.0
	for i < n && isDigit(s[i]) && step < 1000000 {
		step *= 10
		result += float64(s[i]-'0') / step
		i++
	}
	return result
}

// ParseCount parses a count string with the same grammar as ParseSize,
// clamped to a non-negative int.
func ParseCount(s string) int {
	v := ParseSize(s)
	if v < 0 {
		return 0
	}
	return int(v)
}

// Check reports whether s is well-formed according to typ: an Integer may
// carry an optional size suffix, a Double may not, and a Double may carry a
// fractional part while an Integer may not.
func Check(s string, typ NumType) bool {
	i := 0
	n := len(s)
	for i < n && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i >= n || !isDigit(s[i]) {
		return false
	}
	for i < n && isDigit(s[i]) {
		i++
	}
	if i < n && (s[i] == '.' || s[i] == ',') {
		if typ == Integer {
			return false
		}
		i++
		for i < n && isDigit(s[i]) {
			i++
		}
	}
	if i >= n {
		return true
	}
	if typ == Double {
		return false
	}
	for i < n && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i >= n {
		return false
	}
	switch s[i] {
	case 'k', 'K', 'm', 'M', 'g', 'G', 't', 'T':
		i++
	default:
		return false
	}
	return i == n
}

// ErrInvalidNumber is returned by the strict parsers below, which reject a
// malformed value instead of parsing it as the closest numeric prefix the
// way the never-failing ParseSize/ParseInterval do.
var ErrInvalidNumber = goerrors.Errorf("invalid numeric value")

// ParseSizeStrict validates before parsing, returning ErrInvalidNumber for
// malformed input instead of silently parsing a numeric prefix.
func ParseSizeStrict(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if !Check(trimmed, Integer) {
		return 0, goerrors.WrapPrefix(ErrInvalidNumber, trimmed, 0)
	}
	return ParseSize(trimmed), nil
}

// ParseIntervalStrict validates before parsing, returning ErrInvalidNumber
// for malformed input.
func ParseIntervalStrict(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	if !Check(trimmed, Double) {
		return 0, goerrors.WrapPrefix(ErrInvalidNumber, trimmed, 0)
	}
	return ParseInterval(trimmed), nil
}
