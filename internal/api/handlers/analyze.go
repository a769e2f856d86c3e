package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/pipeline"
	"github.com/eduviz/backend/internal/storage"
	apierrors "github.com/eduviz/backend/pkg/errors"
)

// AnalyzeHandler runs document analysis and persists the result.
type AnalyzeHandler struct {
	layout   *storage.Layout
	analyzer *pipeline.Analyzer
	analyses *storage.AnalysisRepository
	logger   *zap.Logger
}

func NewAnalyzeHandler(layout *storage.Layout, analyzer *pipeline.Analyzer, analyses *storage.AnalysisRepository, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{layout: layout, analyzer: analyzer, analyses: analyses, logger: logger}
}

type analyzeRequest struct {
	FileID   string `json:"file_id" binding:"required"`
	Language string `json:"language"`
}

// Analyze handles POST /analyze.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{Error: apierrors.ErrInvalidRequest})
		return
	}

	filePath, err := h.layout.FindUpload(req.FileID)
	if err != nil {
		c.JSON(http.StatusNotFound, apierrors.ErrorResponse{Error: apierrors.ErrFileNotFound})
		return
	}

	analysis, err := h.analyzer.Analyze(c.Request.Context(), filePath, req.Language)
	if err != nil {
		h.logger.Error("Analysis failed",
			zap.String("file_id", req.FileID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{Error: apierrors.ErrAnalysisFailed})
		return
	}

	analysisID := uuid.New().String()
	analysis["analysis_id"] = analysisID
	analysis["file_id"] = req.FileID
	if err := h.analyses.Save(analysisID, analysis); err != nil {
		h.logger.Error("Failed to persist analysis", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{Error: apierrors.ErrStorageError})
		return
	}

	c.JSON(http.StatusOK, analysis)
}
