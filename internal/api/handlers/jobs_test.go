package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/storage"
)

func newJobsTestRouter(t *testing.T) (*gin.Engine, *jobs.Manager, *storage.Layout) {
	t.Helper()
	gin.SetMode(gin.TestMode)
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
	h := NewJobsHandler(manager, tracker, zap.NewNop())

	router := gin.New()
	router.GET("/jobs/:id", h.Get)
	router.GET("/jobs/:id/resume", h.ResumeInfo)
	router.DELETE("/jobs/:id", h.Delete)
	return router, manager, layout
}

func TestGetJobNotFound(t *testing.T) {
	router, _, _ := newJobsTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetJobIncludesStageAndSections(t *testing.T) {
	router, manager, layout := newJobsTestRouter(t)
	_, err := manager.Create("job-1")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("job-1", domain.StatusCreatingAnimation, 42, "working"))

	script := &domain.Script{
		Title: "T",
		Sections: []domain.Section{
			{ID: "a", Title: "A", Narration: "n", DurationSeconds: 10},
			{ID: "b", Title: "B", Narration: "n", DurationSeconds: 10},
		},
	}
	require.NoError(t, layout.SaveScript("job-1", script))
	done := layout.FinalSection("job-1", 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(done), 0o755))
	require.NoError(t, os.WriteFile(done, []byte("mp4"), 0o644))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "sections", body["stage"])
	assert.Equal(t, 42.0, body["progress"])
	assert.Equal(t, 1.0, body["completed_sections"])
	sections, ok := body["sections"].([]any)
	require.True(t, ok)
	assert.Len(t, sections, 2)
}

func TestResumeInfoForFailedJobWithProgress(t *testing.T) {
	router, manager, layout := newJobsTestRouter(t)
	_, err := manager.Create("job-1")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("job-1", domain.StatusFailed, 0, "Interrupted: 1/2 sections complete."))

	script := &domain.Script{
		Title: "T",
		Sections: []domain.Section{
			{ID: "a", Title: "A", Narration: "n"},
			{ID: "b", Title: "B", Narration: "n"},
		},
	}
	require.NoError(t, layout.SaveScript("job-1", script))
	done := layout.FinalSection("job-1", 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(done), 0o755))
	require.NoError(t, os.WriteFile(done, []byte("mp4"), 0o644))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/job-1/resume", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["can_resume"])
	assert.Equal(t, 1.0, body["completed_sections"])
	assert.Equal(t, 2.0, body["total_sections"])
}

func TestResumeInfoNotResumableWhenCompleted(t *testing.T) {
	router, manager, _ := newJobsTestRouter(t)
	_, err := manager.Create("job-1")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("job-1", domain.StatusCompleted, 100, "done"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/job-1/resume", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["can_resume"])
}

func TestDeleteJobReturnsLastState(t *testing.T) {
	router, manager, _ := newJobsTestRouter(t)
	_, err := manager.Create("job-1")
	require.NoError(t, err)
	require.NoError(t, manager.SetStatus("job-1", domain.StatusFailed, 0, "boom"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.StatusFailed, body.Status)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/jobs/job-1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
