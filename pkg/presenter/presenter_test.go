package presenter

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/stretchr/testify/assert"
)

func TestNewWithOptions(t *testing.T) {
	var output, errorOutput bytes.Buffer
	p := NewWithOptions(&output, &errorOutput, ColorNever)

	assert.Equal(t, &output, p.output)
	assert.Equal(t, &errorOutput, p.errorOutput)
	assert.Equal(t, ColorNever, p.colorMode)
	assert.False(t, p.IsQuiet())
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		color    string
		expected ColorMode
	}{
		{"NO_COLOR set", "1", "", ColorNever},
		{"SKILLC_COLOR always", "", "always", ColorAlways},
		{"SKILLC_COLOR force", "", "force", ColorAlways},
		{"SKILLC_COLOR never", "", "never", ColorNever},
		{"SKILLC_COLOR off", "", "off", ColorNever},
		{"default", "", "", ColorAuto},
		{"invalid", "", "rainbow", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Unsetenv("NO_COLOR")
			if tt.noColor != "" {
				t.Setenv("NO_COLOR", tt.noColor)
			}
			t.Setenv("SKILLC_COLOR", tt.color)

			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestError(t *testing.T) {
	var errorOutput bytes.Buffer
	p := NewWithOptions(nil, &errorOutput, ColorNever)

	p.Error(errors.New("boom"), "build")
	assert.Equal(t, "error: build: boom\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(errors.New("boom"), "")
	assert.Equal(t, "error: boom\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(errcode.New(errcode.DeployFailed, "target unreachable"), "claude")
	assert.Equal(t, "error[E030]: claude: target unreachable\n", errorOutput.String())

	errorOutput.Reset()
	p.Error(nil, "ignored")
	assert.Empty(t, errorOutput.String())
}

func TestWarningsGoToStderr(t *testing.T) {
	var output, errorOutput bytes.Buffer
	p := NewWithOptions(&output, &errorOutput, ColorNever)

	p.Warning("careful")
	p.Warn(errcode.Warnf(errcode.WarnMultipleMatches, "2 sections match %q", "Merge"))

	assert.Empty(t, output.String())
	assert.Contains(t, errorOutput.String(), "careful")
	assert.Contains(t, errorOutput.String(), `warning[W001]: 2 sections match "Merge"`)
}

func TestQuietMode(t *testing.T) {
	var output, errorOutput bytes.Buffer
	p := NewWithOptions(&output, &errorOutput, ColorNever)
	p.SetQuiet(true)

	p.Success("ok")
	p.Info("info")
	p.Section("title")
	p.Stage("compile", "done", "")
	p.Separator()
	p.Warning("soft")
	assert.Empty(t, output.String())
	assert.Empty(t, errorOutput.String())

	p.Warn(errcode.Warnf(errcode.WarnLoggingDisabled, "logging disabled"))
	assert.Contains(t, errorOutput.String(), "W002")
}

func TestSectionAndStage(t *testing.T) {
	var output bytes.Buffer
	p := NewWithOptions(&output, nil, ColorNever)

	p.Section("pdf")
	p.Stage("compile", "done", "12 lines")
	p.Stage("deploy", "skipped", "")

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	assert.Equal(t, []string{
		"pdf",
		"---",
		"  compile      done  12 lines",
		"  deploy       skipped",
	}, lines)
}

func TestHighlightWithoutColor(t *testing.T) {
	p := NewWithOptions(nil, nil, ColorNever)
	assert.Equal(t, "use **qpdf** to **merge**", p.Highlight("use [MATCH]qpdf[/MATCH] to [MATCH]merge[/MATCH]"))
	assert.Equal(t, "plain", p.Highlight("plain"))
}

func TestPrompt(t *testing.T) {
	var output bytes.Buffer
	p := NewWithOptions(&output, nil, ColorNever)
	p.SetInput(strings.NewReader("  y \n"))

	assert.Equal(t, "y", p.Prompt("Overwrite?", "y", "n"))
	assert.Equal(t, "Overwrite? [y/n]: ", output.String())

	p.SetInput(strings.NewReader(""))
	assert.Equal(t, "", p.Prompt("Again?"))
}
