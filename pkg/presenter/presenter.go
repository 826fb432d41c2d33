// Package presenter provides consistent CLI output for user-facing messages,
// including success, error, warning, and informational output with color
// support and quiet mode.
package presenter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jingkaihe/skillc/pkg/errcode"
)

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Warn(w errcode.Warning)
	Info(message string)
	Section(title string)
	Stage(name, status, detail string)
	Highlight(snippet string) string
	Prompt(question string, options ...string) string
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	input       io.Reader
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto automatically detects whether to use colored output based on terminal capabilities
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output regardless of terminal capabilities
	ColorAlways
	// ColorNever disables colored output regardless of terminal capabilities
	ColorNever
)

// Snippet markers emitted by the search index.
const (
	MatchOpen  = "[MATCH]"
	MatchClose = "[/MATCH]"
)

// New creates a new TerminalPresenter with default settings
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	p := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		input:       os.Stdin,
		colorMode:   colorMode,
	}

	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}

	return p
}

// SetInput replaces the reader Prompt reads from.
func (p *TerminalPresenter) SetInput(r io.Reader) { p.input = r }

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLC_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error displays an error message to stderr
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	msg := err.Error()
	// coded errors already carry their error[Ennn] prefix
	if i := strings.Index(msg, "]: "); strings.HasPrefix(msg, "error[") && i > 0 {
		if context != "" {
			msg = msg[:i+3] + context + ": " + msg[i+3:]
		}
	} else if context != "" {
		msg = "error: " + context + ": " + msg
	} else {
		msg = "error: " + msg
	}
	color.New(color.FgRed, color.Bold).Fprintln(p.errorOutput, msg)
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a free-form warning on stderr.
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.errorOutput, "⚠ %s\n", message)
}

// Warn displays a coded warning on stderr. Coded warnings are shown even in
// quiet mode so scripts that discard stdout still see them.
func (p *TerminalPresenter) Warn(w errcode.Warning) {
	color.New(color.FgYellow).Fprintln(p.errorOutput, w.String())
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays a section header with consistent formatting
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	headerColor := color.New(color.Bold)
	headerColor.Fprintf(p.output, "%s\n", title)
	headerColor.Fprintf(p.output, "%s\n", strings.Repeat("-", len(title)))
}

// Stage displays one line of a build report.
func (p *TerminalPresenter) Stage(name, status, detail string) {
	if p.quiet {
		return
	}

	var c *color.Color
	switch status {
	case "done":
		c = color.New(color.FgGreen)
	case "failed":
		c = color.New(color.FgRed, color.Bold)
	default:
		c = color.New(color.Faint)
	}
	line := fmt.Sprintf("  %-12s %s", name, c.Sprint(status))
	if detail != "" {
		line += "  " + detail
	}
	fmt.Fprintln(p.output, line)
}

// Highlight renders the search snippet markers. Without color the markers
// are replaced by asterisks.
func (p *TerminalPresenter) Highlight(snippet string) string {
	if color.NoColor {
		return strings.NewReplacer(MatchOpen, "**", MatchClose, "**").Replace(snippet)
	}

	var b strings.Builder
	hl := color.New(color.FgYellow, color.Bold)
	rest := snippet
	for {
		i := strings.Index(rest, MatchOpen)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i+len(MatchOpen):]
		j := strings.Index(rest, MatchClose)
		if j < 0 {
			b.WriteString(hl.Sprint(rest))
			break
		}
		b.WriteString(hl.Sprint(rest[:j]))
		rest = rest[j+len(MatchClose):]
	}
	return b.String()
}

// Prompt displays a prompt and reads user input
func (p *TerminalPresenter) Prompt(question string, options ...string) string {
	promptColor := color.New(color.FgCyan)

	if len(options) > 0 {
		promptColor.Fprintf(p.output, "%s [%s]: ", question, strings.Join(options, "/"))
	} else {
		promptColor.Fprintf(p.output, "%s: ", question)
	}

	response, err := bufio.NewReader(p.input).ReadString('\n')
	if err != nil && response == "" {
		return ""
	}
	return strings.TrimSpace(response)
}

// Separator displays a visual separator
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error displays an error message using the default presenter instance.
func Error(err error, context string) { defaultPresenter.Error(err, context) }

// Success displays a success message using the default presenter instance.
func Success(message string) { defaultPresenter.Success(message) }

// Warning displays a warning message using the default presenter instance.
func Warning(message string) { defaultPresenter.Warning(message) }

// Warn displays a coded warning using the default presenter instance.
func Warn(w errcode.Warning) { defaultPresenter.Warn(w) }

// Info displays an informational message using the default presenter instance.
func Info(message string) { defaultPresenter.Info(message) }

// Section displays a section header using the default presenter instance.
func Section(title string) { defaultPresenter.Section(title) }

// Stage displays a build stage using the default presenter instance.
func Stage(name, status, detail string) { defaultPresenter.Stage(name, status, detail) }

// Highlight renders snippet markers using the default presenter instance.
func Highlight(snippet string) string { return defaultPresenter.Highlight(snippet) }

// Prompt displays a prompt and reads user input using the default presenter instance.
func Prompt(question string, options ...string) string {
	return defaultPresenter.Prompt(question, options...)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() { defaultPresenter.Separator() }

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) { defaultPresenter.SetQuiet(quiet) }

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool { return defaultPresenter.IsQuiet() }
