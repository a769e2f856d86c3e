package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/progress"
	apierrors "github.com/eduviz/backend/pkg/errors"
)

// JobsHandler serves job status, resume info, and deletion.
type JobsHandler struct {
	jobManager *jobs.Manager
	tracker    *progress.Tracker
	logger     *zap.Logger
}

func NewJobsHandler(jobManager *jobs.Manager, tracker *progress.Tracker, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{jobManager: jobManager, tracker: tracker, logger: logger}
}

// Get handles GET /jobs/:id — the job record plus derived per-section state.
func (h *JobsHandler) Get(c *gin.Context) {
	jobID := c.Param("id")
	job := h.jobManager.Get(jobID)
	if job == nil {
		c.JSON(http.StatusNotFound, apierrors.ErrorResponse{Error: apierrors.ErrJobNotFound})
		return
	}

	stage := progress.StageFromStatus(job.Status)
	sections, completed := h.tracker.BuildSectionsProgress(jobID, stage)
	current := progress.CurrentSectionIndex(sections, completed, len(sections), stage)

	response := gin.H{
		"id":                 job.ID,
		"status":             job.Status,
		"progress":           job.Progress,
		"message":            job.Message,
		"result":             job.Result,
		"error":              job.Error,
		"created_at":         job.CreatedAt,
		"updated_at":         job.UpdatedAt,
		"stage":              stage,
		"sections":           sections,
		"completed_sections": completed,
	}
	if current >= 0 {
		response["current_section"] = current
	}
	c.JSON(http.StatusOK, response)
}

// List handles GET /jobs.
func (h *JobsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobManager.ListAll()})
}

// ResumeInfo handles GET /jobs/:id/resume.
func (h *JobsHandler) ResumeInfo(c *gin.Context) {
	jobID := c.Param("id")
	job := h.jobManager.Get(jobID)
	if job == nil {
		c.JSON(http.StatusNotFound, apierrors.ErrorResponse{Error: apierrors.ErrJobNotFound})
		return
	}

	snap := h.tracker.CheckExistingProgress(jobID)
	canResume := job.Status == domain.StatusFailed && snap.HasScript && !snap.HasFinalVideo

	c.JSON(http.StatusOK, gin.H{
		"can_resume":         canResume,
		"completed_sections": len(snap.CompletedSections),
		"total_sections":     snap.TotalSections,
		"remaining_sections": snap.Remaining(),
		"completion_percent": snap.CompletionPercentage(),
	})
}

// Delete handles DELETE /jobs/:id, returning the last job state.
func (h *JobsHandler) Delete(c *gin.Context) {
	jobID := c.Param("id")
	last := h.jobManager.Delete(jobID)
	if last == nil {
		c.JSON(http.StatusNotFound, apierrors.ErrorResponse{Error: apierrors.ErrJobNotFound})
		return
	}
	h.logger.Info("Job deleted", zap.String("job_id", jobID))
	c.JSON(http.StatusOK, last)
}
