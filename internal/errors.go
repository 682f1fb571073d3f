package internal

import (
	"fmt"
	"strings"
)

// ErrorType represents different types of errors
type ErrorType int

const (
	ErrInvalidURL ErrorType = iota
	ErrResolutionFailed
	ErrRateLimit
	ErrNetworkTimeout
	ErrFileNotFound
	ErrInvalidResponse
	ErrTransferFailed
	ErrFileTooSmall
	ErrUploadFailed
	ErrMirrorFailed
	ErrCleanupFailed
	ErrStorage
	ErrInvalidToken
	ErrPermissionDenied
	ErrDiskSpace
)

// PipelineStage identifies where in the delivery pipeline an error occurred
type PipelineStage string

const (
	StageResolve  PipelineStage = "resolve"
	StageTransfer PipelineStage = "transfer"
	StageValidate PipelineStage = "validate"
	StageUpload   PipelineStage = "upload"
	StageMirror   PipelineStage = "mirror"
	StageCleanup  PipelineStage = "cleanup"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// PipelineError represents a pipeline failure with detailed information
type PipelineError struct {
	Stage      PipelineStage          `json:"stage"`
	Message    string                 `json:"message"`
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	URL        string                 `json:"url,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"` // seconds
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("pipeline error (stage: %s, type: %s)", e.Stage, e.Type.String()))

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " - ")
}

// Unwrap exposes the underlying cause for errors.Is/As chains
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// DetailedError returns a detailed error message with all available information
func (e *PipelineError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s] %s Error in %s stage", e.Severity.String(), e.Type.String(), e.Stage))

	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("Message: %s", e.Message))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %s", e.Cause.Error()))
	}

	// Add URL if available (redacted)
	if e.URL != "" {
		redactedURL := redactSensitiveURL(e.URL)
		parts = append(parts, fmt.Sprintf("URL: %s", redactedURL))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	if e.RetryAfter > 0 {
		parts = append(parts, fmt.Sprintf("Retry after: %d seconds", e.RetryAfter))
	}

	return strings.Join(parts, "\n")
}

// String returns the string representation of ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrInvalidURL:
		return "InvalidURL"
	case ErrResolutionFailed:
		return "ResolutionFailed"
	case ErrRateLimit:
		return "RateLimit"
	case ErrNetworkTimeout:
		return "NetworkTimeout"
	case ErrFileNotFound:
		return "FileNotFound"
	case ErrInvalidResponse:
		return "InvalidResponse"
	case ErrTransferFailed:
		return "TransferFailed"
	case ErrFileTooSmall:
		return "FileTooSmall"
	case ErrUploadFailed:
		return "UploadFailed"
	case ErrMirrorFailed:
		return "MirrorFailed"
	case ErrCleanupFailed:
		return "CleanupFailed"
	case ErrStorage:
		return "Storage"
	case ErrInvalidToken:
		return "InvalidToken"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrDiskSpace:
		return "DiskSpace"
	default:
		return "Unknown"
	}
}

// String returns the string representation of ErrorSeverity
func (es ErrorSeverity) String() string {
	switch es {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// NewPipelineError creates a new PipelineError with detailed information
func NewPipelineError(stage PipelineStage, message string, errorType ErrorType) *PipelineError {
	err := &PipelineError{
		Stage:    stage,
		Message:  message,
		Type:     errorType,
		Severity: SeverityError,
		Context:  make(map[string]interface{}),
	}

	// Set default suggestions based on error type
	err.Suggestion = getDefaultSuggestion(errorType)
	err.Severity = getDefaultSeverity(errorType)

	return err
}

// WithSuggestion adds a custom suggestion to the error
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestion = suggestion
	return e
}

// WithURL adds URL context to the error (will be redacted in logs)
func (e *PipelineError) WithURL(url string) *PipelineError {
	e.URL = url
	return e
}

// WithRetryAfter sets the retry delay for rate limit errors
func (e *PipelineError) WithRetryAfter(seconds int) *PipelineError {
	e.RetryAfter = seconds
	return e
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// IsRetryable returns true if the error is retryable
func (e *PipelineError) IsRetryable() bool {
	switch e.Type {
	case ErrNetworkTimeout, ErrRateLimit, ErrTransferFailed, ErrFileTooSmall:
		return true
	case ErrInvalidResponse:
		// Some invalid responses might be temporary
		return true
	default:
		return false
	}
}

// IsCritical returns true if the error is critical and should stop execution
func (e *PipelineError) IsCritical() bool {
	return e.Severity == SeverityCritical
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field      string                 `json:"field"`
	Message    string                 `json:"message"`
	Value      interface{}            `json:"value,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := []string{fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, " - ")
}

// DetailedError returns a detailed validation error message
func (e *ValidationError) DetailedError() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Validation Error for field '%s'", e.Field))
	parts = append(parts, fmt.Sprintf("Message: %s", e.Message))

	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("Provided value: %v", e.Value))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("Context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Suggestion != "" {
		parts = append(parts, fmt.Sprintf("\nSuggestion: %s", e.Suggestion))
	}

	return strings.Join(parts, "\n")
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewValidationErrorWithValue creates a ValidationError with the invalid value
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
		Context: make(map[string]interface{}),
	}
}

// WithSuggestion adds a suggestion to the validation error
func (e *ValidationError) WithSuggestion(suggestion string) *ValidationError {
	e.Suggestion = suggestion
	return e
}

// WithContext adds context to the validation error
func (e *ValidationError) WithContext(key string, value interface{}) *ValidationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// getDefaultSuggestion returns a default suggestion based on error type
func getDefaultSuggestion(errorType ErrorType) string {
	switch errorType {
	case ErrInvalidURL:
		return "Please send a valid TeraBox share link (e.g., https://terabox.com/s/...)"
	case ErrResolutionFailed:
		return "The resolver services could not produce a direct link. The share may be removed or private"
	case ErrRateLimit:
		return "Please wait before retrying"
	case ErrNetworkTimeout:
		return "Check the network connection and try again. Consider configuring a proxy if needed"
	case ErrFileNotFound:
		return "Verify the share link is still valid and the file hasn't been removed"
	case ErrInvalidResponse:
		return "Invalid response from server. The API might have changed or the link is invalid"
	case ErrTransferFailed:
		return "Download failed. Check available disk space and network connection"
	case ErrFileTooSmall:
		return "The downloaded file was too small to be valid. The direct link may have expired"
	case ErrUploadFailed:
		return "Telegram upload failed. The file may exceed the bot upload limit"
	case ErrMirrorFailed:
		return "Copying to the dump channel failed. Check the bot is an admin there"
	case ErrCleanupFailed:
		return "Local files could not be removed. Check directory permissions"
	case ErrStorage:
		return "Database operation failed. Check the MongoDB connection"
	case ErrInvalidToken:
		return "The verification token did not match. Request a fresh verification link"
	case ErrPermissionDenied:
		return "Permission denied. Check file/directory permissions"
	case ErrDiskSpace:
		return "Insufficient disk space. Free up space or choose a different download directory"
	default:
		return "Please check the error details and try again"
	}
}

// getDefaultSeverity returns the default severity for an error type
func getDefaultSeverity(errorType ErrorType) ErrorSeverity {
	switch errorType {
	case ErrRateLimit, ErrNetworkTimeout, ErrMirrorFailed, ErrCleanupFailed:
		return SeverityWarning
	case ErrInvalidURL, ErrResolutionFailed, ErrFileNotFound, ErrInvalidToken:
		return SeverityError
	case ErrStorage, ErrPermissionDenied, ErrDiskSpace:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// redactSensitiveURL redacts sensitive information from URLs
func redactSensitiveURL(url string) string {
	// Query strings can carry resolver keys and signed tokens
	if strings.Contains(url, "?") {
		parts := strings.Split(url, "?")
		return parts[0] + "?[REDACTED]"
	}
	return url
}

// Common error constructors for frequently used errors

// NewInvalidURLError creates an error for invalid URLs
func NewInvalidURLError(url string, reason string) *PipelineError {
	return NewPipelineError(StageResolve, fmt.Sprintf("Invalid URL: %s", reason), ErrInvalidURL).
		WithURL(url)
}

// NewResolutionError creates an error for failed link resolution
func NewResolutionError(url string, cause error) *PipelineError {
	return NewPipelineError(StageResolve, "Could not resolve share link", ErrResolutionFailed).
		WithURL(url).
		WithCause(cause)
}

// NewNetworkTimeoutError creates an error for network timeouts
func NewNetworkTimeoutError(operation string) *PipelineError {
	return NewPipelineError(StageTransfer, fmt.Sprintf("Network timeout during %s", operation), ErrNetworkTimeout)
}

// NewTransferError creates an error for failed downloads
func NewTransferError(message string, cause error) *PipelineError {
	return NewPipelineError(StageTransfer, message, ErrTransferFailed).
		WithCause(cause)
}

// NewFileTooSmallError creates an error for downloads below the validity floor
func NewFileTooSmallError(path string, size int64) *PipelineError {
	return NewPipelineError(StageValidate, fmt.Sprintf("Downloaded file is only %d bytes", size), ErrFileTooSmall).
		WithContext("path", path).
		WithContext("size", size)
}

// NewUploadError creates an error for failed Telegram uploads
func NewUploadError(message string, cause error) *PipelineError {
	return NewPipelineError(StageUpload, message, ErrUploadFailed).
		WithCause(cause)
}

// NewStorageError creates an error for failed database operations
func NewStorageError(operation string, cause error) *PipelineError {
	return NewPipelineError(StageResolve, fmt.Sprintf("Storage operation failed: %s", operation), ErrStorage).
		WithCause(cause)
}

// NewInvalidTokenError creates an error for verification token mismatches
func NewInvalidTokenError(userID int64) *PipelineError {
	return NewPipelineError(StageResolve, "Verification token mismatch", ErrInvalidToken).
		WithContext("user_id", userID)
}
