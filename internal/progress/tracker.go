package progress

import (
	"os"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/storage"
)

// Snapshot is the per-job state reconstructed from disk. It is derived, never
// authoritative: the on-disk artifacts themselves are the source of truth.
type Snapshot struct {
	HasScript         bool
	Script            *domain.Script
	TotalSections     int
	CompletedSections []int
	HasFinalVideo     bool
}

// IsResumable reports whether the job can continue from where it stopped.
func (s Snapshot) IsResumable() bool {
	return s.HasScript && len(s.CompletedSections) > 0 && !s.HasFinalVideo
}

// Remaining lists the section indices that still need processing.
func (s Snapshot) Remaining() []int {
	done := make(map[int]bool, len(s.CompletedSections))
	for _, i := range s.CompletedSections {
		done[i] = true
	}
	var remaining []int
	for i := 0; i < s.TotalSections; i++ {
		if !done[i] {
			remaining = append(remaining, i)
		}
	}
	return remaining
}

// CompletionPercentage is completed/total in [0,100]; 0 when there is no script.
func (s Snapshot) CompletionPercentage() float64 {
	if s.TotalSections == 0 {
		return 0
	}
	return float64(len(s.CompletedSections)) / float64(s.TotalSections) * 100
}

// Tracker reconstructs job progress from the artifact tree and maps stage
// progress into the overall 0..100 scale for the job manager.
type Tracker struct {
	layout  *storage.Layout
	manager *jobs.Manager
	logger  *zap.Logger
}

func NewTracker(layout *storage.Layout, manager *jobs.Manager, logger *zap.Logger) *Tracker {
	return &Tracker{layout: layout, manager: manager, logger: logger}
}

// CheckExistingProgress builds a snapshot for the job from filesystem state.
func (t *Tracker) CheckExistingProgress(jobID string) Snapshot {
	snap := Snapshot{}
	if !t.layout.HasScript(jobID) {
		return snap
	}
	script, err := t.layout.LoadScript(jobID)
	if err != nil {
		t.logger.Warn("Unreadable script during progress check",
			zap.String("job_id", jobID), zap.Error(err))
		return snap
	}
	snap.HasScript = true
	snap.Script = script
	snap.TotalSections = len(script.Sections)

	for i, section := range script.Sections {
		if _, ok := t.layout.ResolveSectionVideo(jobID, i, section.ID); ok {
			snap.CompletedSections = append(snap.CompletedSections, i)
		}
	}
	if _, err := os.Stat(t.layout.FinalVideo(jobID)); err == nil {
		snap.HasFinalVideo = true
	}
	return snap
}

// Pipeline stages, in the order the orchestrator walks them.
const (
	StageAnalysis  = "analysis"
	StageScript    = "script"
	StageSections  = "sections"
	StageCombining = "combining"
)

// ReportStageProgress maps a stage-local 0..100 into the job's overall
// progress and status:
//
//	analysis  -> 0..10
//	script    -> 0..10
//	sections  -> 10..90
//	combining -> 90..100
func (t *Tracker) ReportStageProgress(jobID, stage string, stageProgress float64, message string) {
	var status domain.JobStatus
	var overall float64
	switch stage {
	case StageAnalysis:
		status = domain.StatusAnalyzing
		overall = stageProgress * 0.1
	case StageScript:
		status = domain.StatusGeneratingScript
		overall = stageProgress * 0.1
	case StageSections:
		status = domain.StatusCreatingAnimation
		overall = 10 + stageProgress*0.8
	case StageCombining:
		status = domain.StatusComposingVideo
		overall = 90 + stageProgress*0.1
	default:
		status = domain.StatusCreatingAnimation
		overall = stageProgress
	}
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	if err := t.manager.SetStatus(jobID, status, overall, message); err != nil {
		t.logger.Warn("Failed to report stage progress",
			zap.String("job_id", jobID), zap.String("stage", stage), zap.Error(err))
	}
}
