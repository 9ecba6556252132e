package install

import (
	"time"
)

// Stage is a step of an install or uninstall job.
type Stage string

const (
	StageIdle       Stage = "idle"
	StagePushing    Stage = "pushing"
	StageInstalling Stage = "installing"
	StageVerifying  Stage = "verifying"
	StageSucceeded  Stage = "succeeded"
	StageFailed     Stage = "failed"
)

// stageOrder ranks forward stages. Failed is reachable from any
// non-terminal stage and is handled separately.
var stageOrder = map[Stage]int{
	StageIdle:       0,
	StagePushing:    1,
	StageInstalling: 2,
	StageVerifying:  3,
	StageSucceeded:  4,
}

// Progress returns the checkpoint published when a job enters the stage.
func (s Stage) Progress() int {
	switch s {
	case StagePushing:
		return 30
	case StageInstalling:
		return 60
	case StageVerifying:
		return 90
	case StageSucceeded:
		return 100
	default:
		return 0
	}
}

// Terminal reports whether no further transition is allowed.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// canAdvance reports whether a job in from may move to to.
func canAdvance(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	return stageOrder[to] > stageOrder[from]
}

// Kind distinguishes install from uninstall jobs.
type Kind string

const (
	KindInstall   Kind = "install"
	KindUninstall Kind = "uninstall"
)

// Job is the observable state of one pipeline invocation.
type Job struct {
	ID        string
	Kind      Kind
	Serial    string
	Artifact  string
	Package   string
	Stage     Stage
	Progress  int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Active reports whether the job is still running.
func (j Job) Active() bool {
	return j.ID != "" && !j.Stage.Terminal() && j.Stage != StageIdle
}
