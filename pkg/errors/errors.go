package errors

import "net/http"

// APIError represents a standardized API error response
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Status  int                    `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// WithDetails adds details to an error
func (e *APIError) WithDetails(details map[string]interface{}) *APIError {
	newErr := *e
	newErr.Details = details
	return &newErr
}

// Common error definitions
var (
	// Validation errors (400)
	ErrInvalidRequest = &APIError{
		Code:    "INVALID_REQUEST",
		Message: "Invalid request body",
		Status:  http.StatusBadRequest,
	}

	ErrUnsupportedFileType = &APIError{
		Code:    "UNSUPPORTED_FILE_TYPE",
		Message: "File type not supported. Allowed: pdf, png, jpg, jpeg, txt, md",
		Status:  http.StatusBadRequest,
	}

	ErrInvalidTopicSelection = &APIError{
		Code:    "INVALID_TOPIC_SELECTION",
		Message: "At least one valid topic index must be selected",
		Status:  http.StatusBadRequest,
	}

	ErrAnalysisNotFound = &APIError{
		Code:    "ANALYSIS_NOT_FOUND",
		Message: "Analysis not found for provided analysis_id. Analyze the file again before generating.",
		Status:  http.StatusBadRequest,
	}

	// Not found errors (404)
	ErrJobNotFound = &APIError{
		Code:    "JOB_NOT_FOUND",
		Message: "Job not found",
		Status:  http.StatusNotFound,
	}

	ErrFileNotFound = &APIError{
		Code:    "FILE_NOT_FOUND",
		Message: "Uploaded file not found",
		Status:  http.StatusNotFound,
	}

	// Server errors (500)
	ErrInternalServer = &APIError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: "An internal server error occurred",
		Status:  http.StatusInternalServerError,
	}

	ErrAnalysisFailed = &APIError{
		Code:    "ANALYSIS_FAILED",
		Message: "Document analysis failed",
		Status:  http.StatusInternalServerError,
	}

	ErrStorageError = &APIError{
		Code:    "STORAGE_ERROR",
		Message: "Storage operation failed",
		Status:  http.StatusInternalServerError,
	}
)

// ErrorResponse is the JSON response for errors
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewAPIError creates a new API error
func NewAPIError(base *APIError, message string, details map[string]interface{}) *APIError {
	err := *base
	if message != "" {
		err.Message = message
	}
	if details != nil {
		err.Details = details
	}
	return &err
}

// NewValidationError creates a field-specific validation error derived from ErrInvalidRequest.
func NewValidationError(field, message string) *APIError {
	return NewAPIError(ErrInvalidRequest, message, map[string]interface{}{
		"field": field,
	})
}
