package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/errcode"
	"github.com/jingkaihe/skillc/pkg/logger"
	"github.com/pkg/errors"
)

// StaleAfter is the age at which fallback logs trigger a sync reminder.
const StaleAfter = time.Hour

// Destination says where Log wrote an event.
type Destination string

const (
	DestPrimary  Destination = "primary"
	DestFallback Destination = "fallback"
	DestDropped  Destination = "dropped"
)

// Access is what a read command reports to Log.
type Access struct {
	Command   string
	Skill     string
	SkillPath string
	Scope     config.Scope
	Section   string
	Args      []string
	Err       error
}

// Logger writes access events for one process run.
type Logger struct {
	layout config.Layout
	runID  string
	now    func() time.Time
	// Warn receives non-fatal conditions. It defaults to a log line.
	Warn      func(ctx context.Context, w errcode.Warning)
	staleDone bool
}

// NewLogger returns a Logger with a fresh run id.
func NewLogger(layout config.Layout) *Logger {
	return &Logger{
		layout: layout,
		runID:  uuid.NewString(),
		now:    time.Now,
		Warn: func(ctx context.Context, w errcode.Warning) {
			logger.G(ctx).WithField("code", w.Code).Warn(w.Message)
		},
	}
}

// RunID identifies this process in every event it logs.
func (l *Logger) RunID() string { return l.runID }

// PrimaryDir is the primary log directory of skill in scope.
func (l *Logger) PrimaryDir(scope config.Scope, skill string) string {
	return l.layout.AnalyticsDir(scope, skill)
}

// FallbackDir is the fallback log directory of skill.
func (l *Logger) FallbackDir(skill string) string {
	return filepath.Join(l.layout.FallbackLogs(), skill)
}

// Log records a. Failures never propagate: the event goes to the primary
// log, else to the fallback log, else it is dropped with a warning.
func (l *Logger) Log(ctx context.Context, a Access) Destination {
	l.checkStale(ctx, a.Skill)

	ev := l.event(a)
	primaryErr := appendEvent(ctx, l.PrimaryDir(a.Scope, a.Skill), ev)
	if primaryErr == nil {
		return DestPrimary
	}
	log := logger.G(ctx).WithField("skill", a.Skill)
	log.WithError(primaryErr).Debug("primary access log not writable")

	fallbackErr := appendEvent(ctx, l.FallbackDir(a.Skill), ev)
	if fallbackErr == nil {
		return DestFallback
	}
	log.WithError(fallbackErr).Debug("fallback access log not writable")
	l.Warn(ctx, errcode.Warnf(errcode.WarnLoggingDisabled,
		"access logging disabled for '%s': %v", a.Skill, errors.Cause(fallbackErr)))
	return DestDropped
}

func (l *Logger) event(a Access) Event {
	args, _ := json.Marshal(a.Args)
	if a.Args == nil {
		args = []byte("[]")
	}
	ev := Event{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		RunID:     l.runID,
		Command:   a.Command,
		Skill:     a.Skill,
		SkillPath: a.SkillPath,
		Section:   a.Section,
		Cwd:       l.layout.Cwd,
		Args:      string(args),
	}
	if a.Err != nil {
		ev.Error = sql.NullString{String: a.Err.Error(), Valid: true}
	}
	return ev
}

// checkStale warns at most once per Logger when skill has fallback logs
// older than StaleAfter.
func (l *Logger) checkStale(ctx context.Context, skill string) {
	if l.staleDone {
		return
	}
	l.staleDone = true
	info, err := os.Stat(filepath.Join(l.FallbackDir(skill), LogsFile))
	if err != nil {
		return
	}
	if l.now().Sub(info.ModTime()) > StaleAfter {
		l.Warn(ctx, errcode.Warnf(errcode.WarnStaleLogs,
			"stale local logs for '%s'; run 'skc sync' to merge them", skill))
	}
}

func appendEvent(ctx context.Context, dir string, ev Event) error {
	store, err := OpenStore(ctx, dir)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Insert(ctx, ev)
}
