package cli

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

// captureOutput redirects the color package's writer for one call.
func captureOutput(t *testing.T, f func()) string {
	t.Helper()
	var buf bytes.Buffer
	previousOutput := color.Output
	previousNoColor := color.NoColor
	color.Output = &buf
	color.NoColor = true
	defer func() {
		color.Output = previousOutput
		color.NoColor = previousNoColor
	}()
	f()
	return buf.String()
}

func TestAIOutputFormatsArgs(t *testing.T) {
	output := captureOutput(t, func() {
		AIOutput("conversation (%s) - %s\n", "abc123", "2026-01-01")
	})
	assert.Equal(t, "conversation (abc123) - 2026-01-01\n", output)
}

func TestAIOutputLiteralPercentWithoutArgs(t *testing.T) {
	output := captureOutput(t, func() {
		AIOutput("progress: 100% done\n")
	})
	assert.Equal(t, "progress: 100% done\n", output)
}

func TestUserCommandLiteralPercentWithoutArgs(t *testing.T) {
	output := captureOutput(t, func() {
		UserCommand("rate is 5%\n")
	})
	assert.Equal(t, "rate is 5%\n", output)
}
