package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the Handwriting Recognition Worker
 *
 * Per-configuration failures are logged and skipped by the orchestrator;
 * only decode failures and whole-run failures reach the caller.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorDecode         ErrorCode = "DECODE_FAILED"
	ErrorDownloadFailed ErrorCode = "DOWNLOAD_FAILED"

	// Recognition errors
	ErrorConfigAttempt         ErrorCode = "CONFIG_ATTEMPT_FAILED"
	ErrorAllAttemptsFailed     ErrorCode = "ALL_ATTEMPTS_FAILED"
	ErrorCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE"
	ErrorProcessingTimeout     ErrorCode = "PROCESSING_TIMEOUT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// RecognitionError represents a structured recognition error
type RecognitionError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *RecognitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewDecodeError(jobID string, size int, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorDecode,
		Message:   "Failed to decode image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_bytes": size,
		},
		Cause: cause,
	}
}

func NewDownloadError(jobID string, url string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorDownloadFailed,
		Message:   "Failed to download image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"image_url": url,
		},
		Cause: cause,
	}
}

func NewConfigAttemptError(jobID string, config string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorConfigAttempt,
		Message:   fmt.Sprintf("Recognition failed with config: %s", config),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"config": config,
		},
		Cause: cause,
	}
}

func NewAllAttemptsFailedError(jobID string, attempts int, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorAllAttemptsFailed,
		Message:   fmt.Sprintf("All %d recognition attempts failed", attempts),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewCapabilityUnavailableError(jobID string, engine string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorCapabilityUnavailable,
		Message:   fmt.Sprintf("Recognition engine unavailable: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store job status",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// CodeOf returns the code of the first RecognitionError in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var recErr *RecognitionError
	if stderrors.As(err, &recErr) {
		return recErr.Code
	}
	return ""
}

// IsRecognitionFailure reports whether err means no usable text could be produced
func IsRecognitionFailure(err error) bool {
	switch CodeOf(err) {
	case ErrorAllAttemptsFailed, ErrorCapabilityUnavailable:
		return true
	}
	return false
}

// ToMap converts error to map for job error records
func (e *RecognitionError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
