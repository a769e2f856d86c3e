package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/media"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/storage"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *storage.Layout) {
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
	ffmpeg := media.NewFFmpeg(zap.NewNop())
	return NewOrchestrator(layout, tracker, nil, nil, nil, ffmpeg, 2, zap.NewNop()), layout
}

func twoSectionScript() *domain.Script {
	return &domain.Script{
		Title:     "Test",
		VideoMode: "overview",
		Sections: []domain.Section{
			{ID: "a", Title: "A", Narration: "n", DurationSeconds: 10},
			{ID: "b", Title: "B", Narration: "n", DurationSeconds: 20},
		},
	}
}

func TestSectionsToProcessFreshJobTakesAll(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	todo := o.sectionsToProcess("job-1", twoSectionScript(), false)
	assert.Equal(t, []int{0, 1}, todo)
}

func TestSectionsToProcessResumeSkipsCompleted(t *testing.T) {
	o, layout := newTestOrchestrator(t)
	done := layout.FinalSection("job-1", 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(done), 0o755))
	require.NoError(t, os.WriteFile(done, []byte("mp4"), 0o644))

	todo := o.sectionsToProcess("job-1", twoSectionScript(), true)
	assert.Equal(t, []int{1}, todo)
}

func TestSectionsToProcessFreshRunIgnoresStaleArtifacts(t *testing.T) {
	// Without resume, stale section videos do not shrink the work list.
	o, layout := newTestOrchestrator(t)
	done := layout.FinalSection("job-1", 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(done), 0o755))
	require.NoError(t, os.WriteFile(done, []byte("mp4"), 0o644))

	todo := o.sectionsToProcess("job-1", twoSectionScript(), false)
	assert.Equal(t, []int{0, 1}, todo)
}

func TestGenerateRejectsEmptyScript(t *testing.T) {
	o, layout := newTestOrchestrator(t)
	require.NoError(t, layout.SaveScript("job-1", &domain.Script{Title: "empty"}))

	_, err := o.Generate(context.Background(), GenerateParams{
		JobID:  "job-1",
		Resume: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sections")
}

func TestCleanupAfterSuccessKeepsFinalArtifacts(t *testing.T) {
	o, layout := newTestOrchestrator(t)
	jobID := "job-1"
	require.NoError(t, layout.SaveScript(jobID, twoSectionScript()))
	section := layout.FinalSection(jobID, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(section), 0o755))
	require.NoError(t, os.WriteFile(section, []byte("x"), 0o644))
	for _, name := range []string{"final_video.mp4", "thumbnail.jpg", "video_info.json", "concat_list.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(layout.JobDir(jobID), name), []byte("x"), 0o644))
	}
	translations := filepath.Join(layout.TranslationsDir(jobID), "fr")
	require.NoError(t, os.MkdirAll(translations, 0o755))

	o.cleanupAfterSuccess(jobID)

	assert.NoFileExists(t, layout.ScriptPath(jobID))
	assert.NoFileExists(t, layout.ConcatList(jobID))
	assert.NoDirExists(t, layout.SectionsDir(jobID))
	assert.FileExists(t, layout.FinalVideo(jobID))
	assert.FileExists(t, layout.Thumbnail(jobID))
	assert.FileExists(t, layout.VideoInfoPath(jobID))
	assert.DirExists(t, translations)
}
