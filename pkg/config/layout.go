package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// DirName is the marker directory for both the global home and a project.
	DirName = ".skillc"
	// MetaDir holds manifests and indexes inside a runtime entry.
	MetaDir = ".skillc-meta"
)

// Scope identifies which store a skill belongs to.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Layout is the resolved set of filesystem roots for one invocation.
type Layout struct {
	Home        string
	Cwd         string
	ProjectRoot string
}

// DiscoverLayout builds a Layout for cwd, locating the nearest project root.
func DiscoverLayout(cwd, home string) (Layout, error) {
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return Layout{}, errors.Wrap(err, "failed to resolve working directory")
	}
	absHome, err := filepath.Abs(home)
	if err != nil {
		return Layout{}, errors.Wrap(err, "failed to resolve home directory")
	}
	return Layout{
		Home:        absHome,
		Cwd:         absCwd,
		ProjectRoot: FindProjectRoot(absCwd, absHome),
	}, nil
}

// FindProjectRoot walks upward from start looking for a .skillc directory.
// The home directory never counts as a project since its .skillc is the
// global store.
func FindProjectRoot(start, home string) string {
	dir := start
	for {
		if dir != home {
			if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// HasProject reports whether a project root was found.
func (l Layout) HasProject() bool { return l.ProjectRoot != "" }

func (l Layout) GlobalDir() string     { return filepath.Join(l.Home, DirName) }
func (l Layout) GlobalSources() string { return filepath.Join(l.GlobalDir(), "skills") }
func (l Layout) GlobalRuntime() string { return filepath.Join(l.GlobalDir(), "runtime") }

func (l Layout) ProjectDir() string {
	if l.ProjectRoot == "" {
		return ""
	}
	return filepath.Join(l.ProjectRoot, DirName)
}

func (l Layout) ProjectSources() string {
	if l.ProjectRoot == "" {
		return ""
	}
	return filepath.Join(l.ProjectDir(), "skills")
}

func (l Layout) ProjectRuntime() string {
	if l.ProjectRoot == "" {
		return ""
	}
	return filepath.Join(l.ProjectDir(), "runtime")
}

// Sources returns the source store for scope.
func (l Layout) Sources(scope Scope) string {
	if scope == ScopeProject {
		return l.ProjectSources()
	}
	return l.GlobalSources()
}

// Runtime returns the runtime store for scope.
func (l Layout) Runtime(scope Scope) string {
	if scope == ScopeProject {
		return l.ProjectRuntime()
	}
	return l.GlobalRuntime()
}

// ScopeRoot is the directory agent target templates expand {root} to.
func (l Layout) ScopeRoot(scope Scope) string {
	if scope == ScopeProject {
		return l.ProjectRoot
	}
	return l.Home
}

// AnalyticsDir is the primary access-log location for a skill.
func (l Layout) AnalyticsDir(scope Scope, skill string) string {
	base := l.GlobalDir()
	if scope == ScopeProject && l.ProjectRoot != "" {
		base = l.ProjectDir()
	}
	return filepath.Join(base, "analytics", skill)
}

// FallbackLogs is where access logs go when the primary is not writable.
func (l Layout) FallbackLogs() string {
	return filepath.Join(l.Cwd, DirName, "logs")
}
