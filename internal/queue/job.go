/**
 * Job payloads and the shared job lifecycle for both queue backends
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/handwriting-worker/internal/errors"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

// TaskTypeRecognize is the job type for handwriting recognition
const TaskTypeRecognize = "recognize-handwriting"

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data
type JobPayload struct {
	JobID    string                 `json:"jobId"`
	Filename string                 `json:"filename,omitempty"`
	ImageURL string                 `json:"imageUrl,omitempty"`
	Image    []byte                 `json:"image,omitempty"` // base64 on the wire
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts the image either as a base64 string or as a
// Node.js Buffer object ({"type":"Buffer","data":[...]})
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	// Create alias type to avoid recursion
	type Alias JobPayload
	aux := &struct {
		Image interface{} `json:"image,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.Image = nil
	if aux.Image == nil {
		return nil
	}

	switch v := aux.Image.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 image: %w", err)
		}
		p.Image = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.Image = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.Image[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("image must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the payload carries a job id and an image source
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.Image) == 0 && p.ImageURL == "" {
		return fmt.Errorf("job %s has no image (image or imageUrl required)", p.JobID)
	}
	return nil
}

func (p *JobPayload) request() *processor.RecognizeRequest {
	return &processor.RecognizeRequest{
		JobID:    p.JobID,
		Filename: p.Filename,
		Image:    p.Image,
		ImageURL: p.ImageURL,
	}
}

// isRetryable reports whether running the job again could succeed
func isRetryable(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrorDecode, apperrors.ErrorAllAttemptsFailed:
		return false
	}
	return true
}

// errorRecord is what gets stored for a failed job
func errorRecord(jobID string, err error, attempts int) map[string]interface{} {
	var record map[string]interface{}
	if recErr, ok := asRecognitionError(err); ok {
		record = recErr.ToMap()
	} else {
		record = map[string]interface{}{
			"message":   err.Error(),
			"timestamp": time.Now(),
		}
	}
	record["job_id"] = jobID
	record["error"] = err.Error()
	record["attempts"] = attempts
	return record
}

func asRecognitionError(err error) (*apperrors.RecognitionError, bool) {
	var recErr *apperrors.RecognitionError
	if stderrors.As(err, &recErr) {
		return recErr, true
	}
	return nil, false
}

// jobRunner runs one job through the processor and keeps the job ledger in step
type jobRunner struct {
	processor processor.RecognitionProcessorInterface
	logger    *logging.Logger
}

// run processes the payload; ledger failures are logged and never fail the job
func (r *jobRunner) run(ctx context.Context, payload *JobPayload) (*processor.RecognitionResult, error) {
	startTime := time.Now()

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, "processing", 0, map[string]interface{}{
		"filename": payload.Filename,
	}); err != nil {
		r.logger.Warn("Failed to update status to processing", "jobId", payload.JobID, "error", err)
	}

	result, err := r.processor.Recognize(ctx, payload.request())
	duration := time.Since(startTime)

	if err != nil {
		r.logger.Error("Recognition failed",
			"jobId", payload.JobID, "durationMs", duration.Milliseconds(), "errorCode", apperrors.CodeOf(err), "error", err)

		if updateErr := r.processor.UpdateJobStatus(ctx, payload.JobID, "failed", 100, map[string]interface{}{
			"error":          err.Error(),
			"errorCode":      string(apperrors.CodeOf(err)),
			"processingTime": duration.Milliseconds(),
		}); updateErr != nil {
			r.logger.Warn("Failed to update status to failed", "jobId", payload.JobID, "error", updateErr)
		}
		return nil, err
	}

	r.logger.Info("Recognition completed",
		"jobId", payload.JobID,
		"durationMs", duration.Milliseconds(),
		"confidence", result.Confidence,
		"config", result.ConfigUsed)

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, "completed", 100, map[string]interface{}{
		"confidence":     result.Confidence,
		"level":          result.Level,
		"configUsed":     result.ConfigUsed,
		"configsTried":   result.ConfigsTried,
		"usedFallback":   result.UsedFallback,
		"attempts":       result.Attempts,
		"processingTime": duration.Milliseconds(),
	}); err != nil {
		r.logger.Warn("Failed to update status to completed", "jobId", payload.JobID, "error", err)
	}

	return result, nil
}
