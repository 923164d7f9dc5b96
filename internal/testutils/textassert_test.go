package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter_DefaultOptions(t *testing.T) {
	opts := NewTextAsserter(t).GetOptions()

	assert.True(t, opts.StripANSI)
	assert.False(t, opts.TrimSpace)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Match(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).Assert("\x1b[36mStatus:\x1b[0m Searching\n", "Status: Searching\n")

	assert.Empty(t, rt.errors)
}

func TestTextAsserter_Mismatch(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).Assert("Steps: 10\n", "Steps: 12\n")

	assert.Len(t, rt.errors, 1)
	assert.Contains(t, rt.errors[0], "-Steps: 12")
	assert.Contains(t, rt.errors[0], "+Steps: 10")
}

func TestTextAsserter_Normalization(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).WithOptions(
		WithTrimSpace(true),
		WithIgnoreEmptyLines(true),
		WithIgnoreTrailingWhitespace(true),
	).Assert("\n  a  \n\nb\t\n", "a\nb")

	assert.Empty(t, rt.errors)
}

func TestTextAsserter_KeepANSI(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).WithOptions(WithStripANSI(false)).Assert("\x1b[31mx\x1b[0m", "x")

	assert.Len(t, rt.errors, 1)
}

func TestTextAsserter_ColoredDiff(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).WithOptions(WithEnableColors(true)).Assert("Battery: 85 % charged\n", "Battery: 90 % charged\n")

	require.Len(t, rt.errors, 1)
	assert.Contains(t, rt.errors[0], "\x1b[31m-Battery: 90 % charged")
	assert.Contains(t, rt.errors[0], "\x1b[32m+Battery: 85 % charged")
	assert.Contains(t, rt.errors[0], "\x1b[36m@@")
	assert.Contains(t, StripANSI(rt.errors[0]), "-Battery: 90 % charged")
}

func TestTextAsserter_PlainDiffByDefault(t *testing.T) {
	rt := &recordingT{}
	NewTextAsserter(rt).Assert("Battery: 85 % charged\n", "Battery: 90 % charged\n")

	require.Len(t, rt.errors, 1)
	assert.NotContains(t, rt.errors[0], "\x1b[")
}

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "\r72 bpm", StripANSI("\r\x1b[K\x1b[38;2;72;143;255m72 bpm\x1b[0m"))
}
