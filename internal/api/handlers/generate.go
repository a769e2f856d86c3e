package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/domain"
	"github.com/eduviz/backend/internal/jobs"
	"github.com/eduviz/backend/internal/pipeline"
	"github.com/eduviz/backend/internal/progress"
	"github.com/eduviz/backend/internal/storage"
	apierrors "github.com/eduviz/backend/pkg/errors"
)

// jobBudget caps a single generation run end to end.
const jobBudget = 4 * time.Hour

// GenerateHandler validates generation requests, wires up job records, and
// runs the pipeline in a background goroutine.
type GenerateHandler struct {
	layout       *storage.Layout
	jobManager   *jobs.Manager
	tracker      *progress.Tracker
	orchestrator *pipeline.Orchestrator
	analyses     *storage.AnalysisRepository
	logger       *zap.Logger
}

func NewGenerateHandler(
	layout *storage.Layout,
	jobManager *jobs.Manager,
	tracker *progress.Tracker,
	orchestrator *pipeline.Orchestrator,
	analyses *storage.AnalysisRepository,
	logger *zap.Logger,
) *GenerateHandler {
	return &GenerateHandler{
		layout:       layout,
		jobManager:   jobManager,
		tracker:      tracker,
		orchestrator: orchestrator,
		analyses:     analyses,
		logger:       logger,
	}
}

// Generate handles POST /generate, returning the initial job record while the
// pipeline runs in the background.
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req domain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{Error: apierrors.ErrInvalidRequest})
		return
	}
	if req.VideoMode == "" {
		req.VideoMode = "overview"
	}

	jobID, resume := h.selectJob(req.ResumeJobID)

	// Resolve the source file. Resume flows with an existing script can run
	// without the original upload.
	materialPath, err := h.layout.FindUpload(req.FileID)
	if err != nil {
		if !resume || !h.layout.HasScript(jobID) {
			c.JSON(http.StatusNotFound, apierrors.ErrorResponse{Error: apierrors.ErrFileNotFound})
			return
		}
		materialPath = ""
	}

	// A topic payload is required whenever a fresh script will be generated.
	var topic *domain.TopicPayload
	var analysis map[string]any
	if !resume || !h.layout.HasScript(jobID) {
		analysis = h.analyses.Get(req.AnalysisID)
		if analysis == nil {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{Error: apierrors.ErrAnalysisNotFound})
			return
		}
		topic, err = pipeline.ResolveTopicPayload(analysis, req.AnalysisID, req.FileID, req.SelectedTopics)
		if err != nil {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
				Error: apierrors.NewAPIError(apierrors.ErrInvalidTopicSelection, err.Error(), nil),
			})
			return
		}
	}

	params := pipeline.GenerateParams{
		JobID:           jobID,
		MaterialPath:    materialPath,
		Topic:           topic,
		Analysis:        analysis,
		Voice:           req.Voice,
		Style:           req.Style,
		Language:        req.Language,
		VideoMode:       req.VideoMode,
		ContentFocus:    normalizeContentFocus(req.ContentFocus),
		DocumentContext: normalizeDocumentContext(req.DocumentContext),
		Resume:          resume,
		Progress: func(stage string, stageProgress float64, message string) {
			h.tracker.ReportStageProgress(jobID, stage, stageProgress, message)
		},
	}

	go h.runGeneration(params)

	message := "Video generation started"
	status := "pending"
	if resume {
		message = "Resuming video generation..."
		status = "resuming"
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id":   jobID,
		"status":   status,
		"progress": 0.0,
		"message":  message,
	})
}

// runGeneration walks the pipeline and writes the terminal job state.
func (h *GenerateHandler) runGeneration(params pipeline.GenerateParams) {
	ctx, cancel := context.WithTimeout(context.Background(), jobBudget)
	defer cancel()

	h.logger.Info("Starting generation",
		zap.String("job_id", params.JobID),
		zap.String("video_mode", params.VideoMode),
		zap.Bool("resume", params.Resume),
	)

	result, err := h.orchestrator.Generate(ctx, params)
	if err != nil {
		h.logger.Error("Generation failed",
			zap.String("job_id", params.JobID), zap.Error(err))
		status := domain.StatusFailed
		message := "Video generation failed: " + err.Error()
		errText := err.Error()
		if updateErr := h.jobManager.Update(params.JobID, jobs.Update{
			Status: &status, Message: &message, Error: &errText,
		}); updateErr != nil {
			h.logger.Error("Failed to mark job failed",
				zap.String("job_id", params.JobID), zap.Error(updateErr))
		}
		return
	}

	status := domain.StatusCompleted
	progressVal := 100.0
	message := "Video generated successfully!"
	if err := h.jobManager.Update(params.JobID, jobs.Update{
		Status:   &status,
		Progress: &progressVal,
		Message:  &message,
		Result:   []domain.VideoResult{*result},
	}); err != nil {
		h.logger.Error("Failed to mark job completed",
			zap.String("job_id", params.JobID), zap.Error(err))
	}
}

// selectJob reuses the resumed job when it exists, else creates a fresh one.
func (h *GenerateHandler) selectJob(resumeJobID string) (string, bool) {
	if resumeJobID != "" {
		if existing := h.jobManager.Get(resumeJobID); existing != nil {
			if err := h.jobManager.SetStatus(resumeJobID, domain.StatusAnalyzing, 0, "Resuming generation..."); err != nil {
				h.logger.Warn("Failed to reset resumed job",
					zap.String("job_id", resumeJobID), zap.Error(err))
			}
			return resumeJobID, true
		}
	}
	jobID := uuid.New().String()
	if _, err := h.jobManager.Create(jobID); err != nil {
		h.logger.Error("Failed to create job record", zap.Error(err))
	}
	return jobID, false
}

func normalizeContentFocus(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "practice":
		return "practice"
	case "theory":
		return "theory"
	default:
		return "as_document"
	}
}

func normalizeDocumentContext(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "series", "part-of-series":
		return "series"
	case "standalone":
		return "standalone"
	default:
		return "auto"
	}
}
