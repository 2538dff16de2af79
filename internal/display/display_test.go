package display

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLiteralOnlyRendersVerbatim(t *testing.T) {
	f := Parse("hello world")
	in := Inputs{TerminalWidth: 80}
	assert.Equal(t, "hello world", Render(f, in, 0, 80))
}

func TestParsePercentLiteral(t *testing.T) {
	f := Parse("100%%")
	in := Inputs{TerminalWidth: 80}
	assert.Equal(t, "100%", Render(f, in, 0, 80))
}

func TestLastBytesToken(t *testing.T) {
	f := Parse("%8A")
	assert.True(t, f.Uses[SegLastBytes])
	in := Inputs{TerminalWidth: 80, LastBytesWritten: []byte("hello\x01\x02world")}
	out := Render(f, in, 0, 80)
	assert.Len(t, out, 8)
}

func TestSIScalingNearZeroIsTwoSpaceB(t *testing.T) {
	s := FormatCount(0, true)
	assert.Equal(t, "0.00  B", s)
}

func TestSIScalingKnownValues(t *testing.T) {
	assert.Equal(t, "1.00KiB", FormatCount(1024, true))
}

func TestBufferPercentDashesOnZeroCopy(t *testing.T) {
	in := Inputs{BufferPercentUse: -1}
	assert.Equal(t, "----", renderBufferPct(in))
}

func TestETABlankWhenSizeUnknown(t *testing.T) {
	in := Inputs{SizeKnown: false, TerminalWidth: 80}
	s := renderETA(in)
	assert.Equal(t, 8, len(s))
	assert.Equal(t, "        ", s)
}

func TestFinalUpdateBlanksETA(t *testing.T) {
	in := Inputs{Final: true, SizeKnown: true, ETAValid: true, ETASeconds: 30, TerminalWidth: 80}
	assert.Equal(t, "        ", renderETA(in))
}

func TestETAAbsoluteRendersTargetClockTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	in := Inputs{SizeKnown: true, ETAValid: true, ETASeconds: 90, NowUnix: now.Unix()}
	want := "ETA " + now.Add(90*time.Second).Format("15:04:05")
	assert.Equal(t, want, renderETAAbsolute(in))
}

func TestETAAbsoluteIncludesDateWhenOverSixHoursAway(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	in := Inputs{SizeKnown: true, ETAValid: true, ETASeconds: 7 * 3600, NowUnix: now.Unix()}
	want := "ETA " + now.Add(7*time.Hour).Format("2006-01-02 15:04:05")
	assert.Equal(t, want, renderETAAbsolute(in))
}

func TestETAAbsoluteBlankWhenSizeUnknown(t *testing.T) {
	in := Inputs{SizeKnown: false, TerminalWidth: 80}
	assert.Equal(t, "        ", renderETAAbsolute(in))
}

func TestBarKnownSizeFullAt100(t *testing.T) {
	in := Inputs{SizeKnown: true, Percentage: 100, TerminalWidth: 40}
	bar := renderBar(in, 0)
	assert.Contains(t, bar, "100%")
	assert.Contains(t, bar, "=")
}

func TestBarUnknownSizeBounces(t *testing.T) {
	in1 := Inputs{SizeKnown: false, Percentage: 10, TerminalWidth: 40}
	in2 := Inputs{SizeKnown: false, Percentage: 150, TerminalWidth: 40}
	b1 := renderBar(in1, 0)
	b2 := renderBar(in2, 0)
	assert.Contains(t, b1, "<=>")
	assert.Contains(t, b2, "<=>")
	assert.NotEqual(t, b1, b2)
}

func TestTrailingSpacePaddingErasesStaleChars(t *testing.T) {
	f := Parse("%b")
	in := Inputs{TerminalWidth: 80, Bytes: 1, BytesMode: true}
	short := Render(f, in, 20, 80)
	assert.Equal(t, 20, len(short))
}

func TestNumericModePercentage(t *testing.T) {
	in := Inputs{SizeKnown: true, Percentage: 42}
	assert.Equal(t, "42", RenderNumeric(in, false))
}

func TestNumericModeBytesWhenSizeUnknown(t *testing.T) {
	in := Inputs{SizeKnown: false, Bytes: 500}
	assert.Equal(t, "500", RenderNumeric(in, false))
}

func TestBuildDefaultFormatNonEmpty(t *testing.T) {
	s := BuildDefaultFormat(DefaultFormatOptions{Bar: true, Bytes: true, Timer: true, Rate: true})
	assert.Equal(t, "%b %t %r %p", s)
}
