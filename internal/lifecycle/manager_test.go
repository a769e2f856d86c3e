package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/cleanup"
	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/storage"
)

func newTestLifecycle(t *testing.T) (*Manager, *storage.Layout, *jobs.Manager) {
	t.Helper()
	root := t.TempDir()
	layout, err := storage.NewLayout(
		filepath.Join(root, "outputs"),
		filepath.Join(root, "uploads"),
		filepath.Join(root, "job_data"),
	)
	require.NoError(t, err)
	manager, err := jobs.NewManager(filepath.Join(root, "job_data"), 50, zap.NewNop())
	require.NoError(t, err)
	tracker := progress.NewTracker(layout, manager, zap.NewNop())
	cleanupSvc := cleanup.NewService(layout, manager, cleanup.Retention{}, zap.NewNop())
	m := NewManager(layout, manager, tracker, nil, cleanupSvc, "manim", false, zap.NewNop())
	return m, layout, manager
}

func writeScriptWithSections(t *testing.T, layout *storage.Layout, jobID string, total, completed int) {
	t.Helper()
	script := &domain.Script{Title: "T"}
	for i := 0; i < total; i++ {
		script.Sections = append(script.Sections, domain.Section{
			ID: string(rune('a' + i)), Title: "S", Narration: "n", DurationSeconds: 10,
		})
	}
	require.NoError(t, layout.SaveScript(jobID, script))
	for i := 0; i < completed; i++ {
		path := layout.FinalSection(jobID, i)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))
	}
}

func TestRecoverMarksPartialJobFailedWithCounts(t *testing.T) {
	m, layout, manager := newTestLifecycle(t)
	_, err := manager.Create("job-1")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("job-1", domain.StatusCreatingAnimation, 40, "working"))
	writeScriptWithSections(t, layout, "job-1", 3, 2)

	m.recoverInterruptedJobs(context.Background())

	job := manager.Get("job-1")
	require.NotNil(t, job)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Contains(t, job.Message, "2/3 sections complete")
	assert.Contains(t, job.Message, "resume")
}

func TestRecoverMarksNoProgressJobFailedPlain(t *testing.T) {
	m, _, manager := newTestLifecycle(t)
	_, err := manager.Create("job-1")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("job-1", domain.StatusAnalyzing, 2, "analyzing"))

	m.recoverInterruptedJobs(context.Background())

	job := manager.Get("job-1")
	require.NotNil(t, job)
	assert.Equal(t, domain.StatusFailed, job.Status)
	assert.Equal(t, jobs.InterruptedMessage, job.Message)
}

func TestRecoverLeavesTerminalJobsAlone(t *testing.T) {
	m, _, manager := newTestLifecycle(t)
	_, err := manager.Create("done")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("done", domain.StatusCompleted, 100, "done"))

	m.recoverInterruptedJobs(context.Background())

	job := manager.Get("done")
	require.NotNil(t, job)
	assert.Equal(t, domain.StatusCompleted, job.Status)
}

func TestRuntimeChecksReportDirs(t *testing.T) {
	m, layout, _ := newTestLifecycle(t)
	report := m.runRuntimeChecks()
	assert.True(t, report.Dirs[layout.OutputsRoot])
	assert.True(t, report.Dirs[layout.UploadsRoot])
	assert.Contains(t, report.Tools, "ffmpeg")
	assert.Contains(t, report.Tools, "manim")
}
