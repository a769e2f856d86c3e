package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/storage"
	apierrors "github.com/eduviz/backend/pkg/errors"
)

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".txt":  true,
	".md":   true,
}

// UploadHandler accepts source documents.
type UploadHandler struct {
	layout *storage.Layout
	logger *zap.Logger
}

func NewUploadHandler(layout *storage.Layout, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{layout: layout, logger: logger}
}

// Upload handles POST /uploads (multipart form, field "file").
func (h *UploadHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
			Error: apierrors.NewValidationError("file", "Missing file field"),
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{Error: apierrors.ErrUnsupportedFileType})
		return
	}

	fileID := uuid.New().String()
	dst := h.layout.UploadPath(fileID, ext)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		h.logger.Error("Failed to store upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{Error: apierrors.ErrStorageError})
		return
	}

	h.logger.Info("File uploaded",
		zap.String("file_id", fileID),
		zap.String("filename", file.Filename),
		zap.Int64("size", file.Size),
	)
	c.JSON(http.StatusOK, gin.H{
		"file_id":      fileID,
		"filename":     file.Filename,
		"size":         file.Size,
		"content_type": file.Header.Get("Content-Type"),
	})
}
