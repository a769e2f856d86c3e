package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/cleanup"
	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/pipeline"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/storage"
)

// RuntimeReport records what the startup checks found.
type RuntimeReport struct {
	Tools map[string]bool `json:"tools"`
	Dirs  map[string]bool `json:"dirs"`
}

// Manager owns startup recovery, the background cleanup task, and graceful
// shutdown.
type Manager struct {
	layout       *storage.Layout
	jobManager   *jobs.Manager
	tracker      *progress.Tracker
	orchestrator *pipeline.Orchestrator
	cleanup      *cleanup.Service
	rendererBin  string
	strictTools  bool
	logger       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(
	layout *storage.Layout,
	jobManager *jobs.Manager,
	tracker *progress.Tracker,
	orchestrator *pipeline.Orchestrator,
	cleanupSvc *cleanup.Service,
	rendererBin string,
	strictTools bool,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		layout:       layout,
		jobManager:   jobManager,
		tracker:      tracker,
		orchestrator: orchestrator,
		cleanup:      cleanupSvc,
		rendererBin:  rendererBin,
		strictTools:  strictTools,
		logger:       logger,
	}
}

// Startup runs runtime checks, schedules cleanup, and recovers interrupted
// jobs. With strict checks enabled a missing tool is fatal.
func (m *Manager) Startup(ctx context.Context) (*RuntimeReport, error) {
	report := m.runRuntimeChecks()
	if m.strictTools {
		for tool, found := range report.Tools {
			if !found {
				return report, fmt.Errorf("required tool %q not found in PATH", tool)
			}
		}
	}

	m.cleanup.RunOnce()
	bgCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.cleanup.RunPeriodic(bgCtx)
	}()

	m.recoverInterruptedJobs(ctx)
	return report, nil
}

// Shutdown cancels and awaits background tasks.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Background tasks stopped")
}

func (m *Manager) runRuntimeChecks() *RuntimeReport {
	report := &RuntimeReport{Tools: map[string]bool{}, Dirs: map[string]bool{}}
	for _, tool := range []string{m.rendererBin, "ffmpeg", "ffprobe"} {
		_, err := exec.LookPath(tool)
		report.Tools[tool] = err == nil
		if err != nil {
			m.logger.Warn("Runtime tool missing from PATH", zap.String("tool", tool))
		}
	}
	for _, dir := range []string{m.layout.OutputsRoot, m.layout.UploadsRoot, m.layout.JobDataRoot} {
		report.Dirs[dir] = dirWritable(dir)
	}
	m.logger.Info("Startup runtime checks complete",
		zap.Any("tools", report.Tools), zap.Any("dirs", report.Dirs))
	return report
}

func dirWritable(dir string) bool {
	probe, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}

// recoverInterruptedJobs replays jobs left active by the previous process:
// jobs with every section on disk get a standalone composite; the rest are
// marked failed with the counts the client needs to offer a resume.
func (m *Manager) recoverInterruptedJobs(ctx context.Context) {
	interrupted := m.jobManager.GetInterrupted()
	if len(interrupted) == 0 {
		return
	}
	m.logger.Info("Recovering interrupted jobs", zap.Int("count", len(interrupted)))

	seen := map[string]bool{}
	for _, job := range interrupted {
		if seen[job.ID] {
			continue
		}
		seen[job.ID] = true

		snap := m.tracker.CheckExistingProgress(job.ID)
		switch {
		case snap.HasScript && len(snap.CompletedSections) == snap.TotalSections && snap.TotalSections > 0:
			m.logger.Info("All sections on disk; composing standalone",
				zap.String("job_id", job.ID))
			m.tryComposite(ctx, job.ID, snap)
		case snap.HasScript && len(snap.CompletedSections) > 0:
			m.failJob(job.ID, fmt.Sprintf("Interrupted: %d/%d sections complete. Use resume to continue.",
				len(snap.CompletedSections), snap.TotalSections))
		default:
			m.failJob(job.ID, jobs.InterruptedMessage)
		}
	}
}

// tryComposite finishes an interrupted job whose sections all rendered,
// without re-invoking the LLM or TTS.
func (m *Manager) tryComposite(ctx context.Context, jobID string, snap progress.Snapshot) {
	result, err := m.orchestrator.Composite(ctx, jobID, snap.Script)
	if err != nil {
		m.logger.Error("Standalone composite failed",
			zap.String("job_id", jobID), zap.Error(err))
		m.failJob(jobID, fmt.Sprintf("Failed to combine section videos: %v", err))
		return
	}

	status := domain.StatusCompleted
	progressVal := 100.0
	message := "Video generation complete!"
	if err := m.jobManager.Update(jobID, jobs.Update{
		Status:   &status,
		Progress: &progressVal,
		Message:  &message,
		Result:   []domain.VideoResult{*result},
	}); err != nil {
		m.logger.Error("Failed to mark recovered job completed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

func (m *Manager) failJob(jobID, message string) {
	status := domain.StatusFailed
	if err := m.jobManager.Update(jobID, jobs.Update{Status: &status, Message: &message}); err != nil {
		m.logger.Error("Failed to mark interrupted job failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}
