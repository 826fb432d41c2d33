// Package errcode defines the stable error identifiers surfaced by skillc.
// Every error that reaches a caller verbatim carries one of these codes so
// scripts and the MCP server can branch on it without parsing messages.
package errcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is a stable, user-visible error identifier such as "E012".
type Code string

const (
	SkillNotFound          Code = "E001"
	IndexUnusable          Code = "E002"
	IndexHashCollision     Code = "E003"
	EmptyQuery             Code = "E004"
	MissingPrimaryDocument Code = "E010"
	InvalidFrontmatter     Code = "E011"
	PathEscape             Code = "E012"
	SectionNotFound        Code = "E020"
	DeployFailed           Code = "E030"
	NoLocalLogs            Code = "E040"
	SyncDestNotWritable    Code = "E041"
	SyncSourceNotReadable  Code = "E042"
	IO                     Code = "E900"
	Internal               Code = "E999"
)

var names = map[Code]string{
	SkillNotFound:          "skill_not_found",
	IndexUnusable:          "index_unusable",
	IndexHashCollision:     "index_hash_collision",
	EmptyQuery:             "empty_query",
	MissingPrimaryDocument: "missing_primary_document",
	InvalidFrontmatter:     "invalid_frontmatter",
	PathEscape:             "path_escape",
	SectionNotFound:        "section_not_found",
	DeployFailed:           "deploy_failed",
	NoLocalLogs:            "no_local_logs",
	SyncDestNotWritable:    "sync_dest_not_writable",
	SyncSourceNotReadable:  "sync_source_not_readable",
	IO:                     "io_error",
	Internal:               "internal",
	WarnMultipleMatches:    "multiple_matches",
	WarnLoggingDisabled:    "logging_disabled",
	WarnStaleLogs:          "stale_logs",
}

// Name returns the snake_case identifier for the code.
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "unknown"
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrNotFound               = &Error{Code: SkillNotFound}
	ErrIndexUnusable          = &Error{Code: IndexUnusable}
	ErrIndexHashCollision     = &Error{Code: IndexHashCollision}
	ErrEmptyQuery             = &Error{Code: EmptyQuery}
	ErrMissingPrimaryDocument = &Error{Code: MissingPrimaryDocument}
	ErrInvalidFrontmatter     = &Error{Code: InvalidFrontmatter}
	ErrPathEscape             = &Error{Code: PathEscape}
	ErrSectionNotFound        = &Error{Code: SectionNotFound}
	ErrDeployFailed           = &Error{Code: DeployFailed}
	ErrNoLocalLogs            = &Error{Code: NoLocalLogs}
	ErrSyncDestNotWritable    = &Error{Code: SyncDestNotWritable}
	ErrSyncSourceNotReadable  = &Error{Code: SyncSourceNotReadable}
	ErrIO                     = &Error{Code: IO}
)

// Error is an error tagged with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags cause with code. A nil cause yields nil.
func Wrap(cause error, code Code, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Name()
	}
	if e.Err != nil {
		return fmt.Sprintf("error[%s]: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("error[%s]: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a coded error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// Internal when err carries none.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return Internal
}

// Warning codes. Warnings are reported on stderr and never fail a command.
const (
	WarnMultipleMatches Code = "W001"
	WarnLoggingDisabled Code = "W002"
	WarnStaleLogs       Code = "W003"
)

// Warning is a coded, non-fatal condition.
type Warning struct {
	Code    Code
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning[%s]: %s", w.Code, w.Message)
}

// Warnf builds a Warning.
func Warnf(code Code, format string, args ...any) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}
