package internal

import (
	"errors"
	"strings"
	"testing"
)

func TestPipelineError_Error(t *testing.T) {
	err := NewPipelineError(StageResolve, "Share not found", ErrFileNotFound)

	result := err.Error()

	if !strings.Contains(result, "pipeline error") {
		t.Error("Error message should contain 'pipeline error'")
	}
	if !strings.Contains(result, "resolve") {
		t.Error("Error message should contain the stage")
	}
	if !strings.Contains(result, "FileNotFound") {
		t.Error("Error message should contain error type")
	}
	if !strings.Contains(result, "Share not found") {
		t.Error("Error message should contain the message")
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransferError("download failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var pipelineErr *PipelineError
	if !errors.As(error(err), &pipelineErr) {
		t.Error("errors.As should match *PipelineError")
	}
	if pipelineErr.Stage != StageTransfer {
		t.Errorf("Stage = %v, want %v", pipelineErr.Stage, StageTransfer)
	}
}

func TestPipelineError_DetailedError(t *testing.T) {
	err := NewPipelineError(StageTransfer, "Rate limit exceeded", ErrRateLimit).
		WithURL("https://terabox.com/api/download").
		WithRetryAfter(60).
		WithContext("attempts", 3)

	result := err.DetailedError()

	// Check that all components are present
	if !strings.Contains(result, "WARNING") {
		t.Error("Detailed error should contain severity")
	}
	if !strings.Contains(result, "RateLimit Error") {
		t.Error("Detailed error should contain error type")
	}
	if !strings.Contains(result, "transfer stage") {
		t.Error("Detailed error should contain the stage")
	}
	if !strings.Contains(result, "Rate limit exceeded") {
		t.Error("Detailed error should contain message")
	}
	if !strings.Contains(result, "Retry after: 60 seconds") {
		t.Error("Detailed error should contain retry information")
	}
	if !strings.Contains(result, "attempts=3") {
		t.Error("Detailed error should contain context")
	}
	if !strings.Contains(result, "Suggestion:") {
		t.Error("Detailed error should contain suggestion")
	}

	// Check that URL is present but potentially redacted
	if !strings.Contains(result, "terabox.com/api/download") {
		t.Error("URL should be present in detailed error")
	}
}

func TestPipelineError_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		errorType ErrorType
		retryable bool
	}{
		{"network_timeout", ErrNetworkTimeout, true},
		{"rate_limit", ErrRateLimit, true},
		{"transfer_failed", ErrTransferFailed, true},
		{"file_too_small", ErrFileTooSmall, true},
		{"invalid_url", ErrInvalidURL, false},
		{"file_not_found", ErrFileNotFound, false},
		{"invalid_token", ErrInvalidToken, false},
		{"upload_failed", ErrUploadFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPipelineError(StageTransfer, "test message", tt.errorType)
			result := err.IsRetryable()
			if result != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v for error type %v", result, tt.retryable, tt.errorType)
			}
		})
	}
}

func TestPipelineError_IsCritical(t *testing.T) {
	// Test critical error
	criticalErr := NewPipelineError(StageResolve, "Database unreachable", ErrStorage)
	if !criticalErr.IsCritical() {
		t.Error("Storage error should be critical")
	}

	// Test non-critical error
	nonCriticalErr := NewPipelineError(StageTransfer, "Timeout", ErrNetworkTimeout)
	if nonCriticalErr.IsCritical() {
		t.Error("Network timeout error should not be critical")
	}
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrInvalidURL, "InvalidURL"},
		{ErrResolutionFailed, "ResolutionFailed"},
		{ErrRateLimit, "RateLimit"},
		{ErrNetworkTimeout, "NetworkTimeout"},
		{ErrFileNotFound, "FileNotFound"},
		{ErrInvalidResponse, "InvalidResponse"},
		{ErrTransferFailed, "TransferFailed"},
		{ErrFileTooSmall, "FileTooSmall"},
		{ErrUploadFailed, "UploadFailed"},
		{ErrMirrorFailed, "MirrorFailed"},
		{ErrCleanupFailed, "CleanupFailed"},
		{ErrStorage, "Storage"},
		{ErrInvalidToken, "InvalidToken"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.errorType.String()
			if result != tt.expected {
				t.Errorf("ErrorType.String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestErrorSeverity_String(t *testing.T) {
	tests := []struct {
		severity ErrorSeverity
		expected string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityError, "ERROR"},
		{SeverityCritical, "CRITICAL"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.severity.String()
			if result != tt.expected {
				t.Errorf("ErrorSeverity.String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("url", "invalid format").
		WithSuggestion("Use https://terabox.com/s/... format")

	result := err.Error()

	if !strings.Contains(result, "validation error for url") {
		t.Error("Error should contain field name")
	}
	if !strings.Contains(result, "invalid format") {
		t.Error("Error should contain message")
	}
	if !strings.Contains(result, "Suggestion:") {
		t.Error("Error should contain suggestion")
	}
}

func TestValidationError_DetailedError(t *testing.T) {
	err := NewValidationErrorWithValue("free_limit", "must not be negative", -2).
		WithSuggestion("Use zero or a positive value").
		WithContext("min_allowed", 0)

	result := err.DetailedError()

	if !strings.Contains(result, "Validation Error for field 'free_limit'") {
		t.Error("Detailed error should contain field name")
	}
	if !strings.Contains(result, "Provided value: -2") {
		t.Error("Detailed error should contain provided value")
	}
	if !strings.Contains(result, "min_allowed=0") {
		t.Error("Detailed error should contain context")
	}
	if !strings.Contains(result, "Suggestion:") {
		t.Error("Detailed error should contain suggestion")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("NewInvalidURLError", func(t *testing.T) {
		err := NewInvalidURLError("https://invalid.com", "unsupported domain")

		if err.Type != ErrInvalidURL {
			t.Error("Should create InvalidURL error type")
		}
		if err.Stage != StageResolve {
			t.Error("Should attribute the error to the resolve stage")
		}
		if !strings.Contains(err.Suggestion, "TeraBox share link") {
			t.Error("Should provide helpful suggestion")
		}
	})

	t.Run("NewResolutionError", func(t *testing.T) {
		cause := errors.New("all endpoints exhausted")
		err := NewResolutionError("https://terabox.com/s/test123", cause)

		if err.Type != ErrResolutionFailed {
			t.Error("Should create ResolutionFailed error type")
		}
		if err.URL == "" {
			t.Error("Should set URL context")
		}
		if !errors.Is(err, cause) {
			t.Error("Should wrap the cause")
		}
	})

	t.Run("NewFileTooSmallError", func(t *testing.T) {
		err := NewFileTooSmallError("/tmp/video.mp4", 512)

		if err.Type != ErrFileTooSmall {
			t.Error("Should create FileTooSmall error type")
		}
		if err.Stage != StageValidate {
			t.Error("Should attribute the error to the validate stage")
		}
		if !strings.Contains(err.Message, "512") {
			t.Error("Should include the size in the message")
		}
	})

	t.Run("NewNetworkTimeoutError", func(t *testing.T) {
		err := NewNetworkTimeoutError("file download")

		if err.Type != ErrNetworkTimeout {
			t.Error("Should create NetworkTimeout error type")
		}
		if !strings.Contains(err.Message, "file download") {
			t.Error("Should include operation in message")
		}
	})

	t.Run("NewInvalidTokenError", func(t *testing.T) {
		err := NewInvalidTokenError(12345)

		if err.Type != ErrInvalidToken {
			t.Error("Should create InvalidToken error type")
		}
		if err.Context["user_id"] != int64(12345) {
			t.Error("Should record the user id in context")
		}
	})
}

func TestGetDefaultSeverity(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		severity  ErrorSeverity
	}{
		{ErrRateLimit, SeverityWarning},
		{ErrNetworkTimeout, SeverityWarning},
		{ErrMirrorFailed, SeverityWarning},
		{ErrCleanupFailed, SeverityWarning},
		{ErrInvalidURL, SeverityError},
		{ErrResolutionFailed, SeverityError},
		{ErrFileNotFound, SeverityError},
		{ErrStorage, SeverityCritical},
		{ErrPermissionDenied, SeverityCritical},
		{ErrDiskSpace, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.errorType.String(), func(t *testing.T) {
			severity := getDefaultSeverity(tt.errorType)
			if severity != tt.severity {
				t.Errorf("getDefaultSeverity(%v) = %v, want %v", tt.errorType, severity, tt.severity)
			}
		})
	}
}

func TestRedactSensitiveURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "url_with_query_params",
			input:    "https://api.terabox.com/download?token=secret123&file=test.zip",
			expected: "https://api.terabox.com/download?[REDACTED]",
		},
		{
			name:     "url_without_query_params",
			input:    "https://api.terabox.com/download",
			expected: "https://api.terabox.com/download",
		},
		{
			name:     "empty_url",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSensitiveURL(tt.input)
			if result != tt.expected {
				t.Errorf("redactSensitiveURL() = %q, want %q", result, tt.expected)
			}
		})
	}
}
