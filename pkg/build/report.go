package build

import (
	"time"

	"github.com/jingkaihe/skillc/pkg/deploy"
	"github.com/jingkaihe/skillc/pkg/fingerprint"
	"github.com/jingkaihe/skillc/pkg/index"
	"github.com/jingkaihe/skillc/pkg/resolver"
	"github.com/jingkaihe/skillc/pkg/runtime"
)

// StageName identifies a step of a build.
type StageName string

const (
	StageResolve     StageName = "resolve"
	StageFingerprint StageName = "fingerprint"
	StageCompile     StageName = "compile"
	StageIndex       StageName = "index"
	StagePublish     StageName = "publish"
	StageDeploy      StageName = "deploy"
)

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StatusDone    StageStatus = "done"
	StatusSkipped StageStatus = "skipped"
	StatusFailed  StageStatus = "failed"
)

// Stage records one step of a build.
type Stage struct {
	Name     StageName     `json:"name"`
	Status   StageStatus   `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Exit codes of a build invocation.
const (
	ExitOK           = 0
	ExitBuildFailed  = 1
	ExitDeployFailed = 2
)

// Report describes what one Build did.
type Report struct {
	Skill       string                  `json:"skill"`
	Source      *resolver.Source        `json:"source,omitempty"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	CacheHit    bool                    `json:"cache_hit"`
	Stages      []Stage                 `json:"stages"`
	Manifest    *runtime.Manifest       `json:"manifest,omitempty"`
	Index       *index.Summary          `json:"index,omitempty"`
	Deploys     []deploy.Result         `json:"deploys,omitempty"`
	// Diff is a unified diff of the stub against the previous build when
	// requested and the stub changed.
	Diff string `json:"diff,omitempty"`
}

// Stage returns the record of name.
func (r *Report) Stage(name StageName) (Stage, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// DeployFailures counts failed deploy targets.
func (r *Report) DeployFailures() int {
	n := 0
	for _, d := range r.Deploys {
		if !d.OK() {
			n++
		}
	}
	return n
}

func (r *Report) record(name StageName, status StageStatus, detail string, started time.Time) {
	r.Stages = append(r.Stages, Stage{Name: name, Status: status, Detail: detail, Duration: time.Since(started)})
}

// ExitCode maps the result of Build to a process exit code.
func ExitCode(r *Report, err error) int {
	switch {
	case err != nil || r == nil:
		return ExitBuildFailed
	case r.DeployFailures() > 0:
		return ExitDeployFailed
	default:
		return ExitOK
	}
}
