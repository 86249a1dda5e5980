/**
 * Recognition Processor for the Handwriting Recognition Worker
 *
 * Runs one image through the full pipeline:
 * - Load (inline bytes or URL download)
 * - Decode and preprocess (grayscale, contrast, blur, threshold, opening, median)
 * - Multi-configuration recognition with fallback
 * - Text normalization and confidence grading
 */

package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/adverant/nexus/handwriting-worker/internal/bitmap"
	apperrors "github.com/adverant/nexus/handwriting-worker/internal/errors"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/storage"
)

// RecognitionProcessorInterface defines the interface used by the queue consumers
type RecognitionProcessorInterface interface {
	Recognize(ctx context.Context, req *RecognizeRequest) (*RecognitionResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// JobStatusStore persists job status updates
type JobStatusStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine            Engine
	JobStore          JobStatusStore // optional
	MaxImageSize      int64
	ProcessingTimeout time.Duration
	AttemptTimeout    time.Duration
	Configs           []RecognitionConfig // defaults to DefaultConfigs()
	HTTPClient        *http.Client        // used for ImageURL downloads
	Logger            *logging.Logger
}

// RecognizeRequest represents a recognition request
type RecognizeRequest struct {
	JobID    string
	Filename string
	Image    []byte
	ImageURL string
}

// Processor handles handwriting recognition
type Processor struct {
	config          *ProcessorConfig
	orchestrator    *Orchestrator
	jobStore        JobStatusStore
	httpClient      *http.Client
	downloadBackoff time.Duration // first retry delay, doubled per attempt
	logger          *logging.Logger
}

// NewProcessor creates a new recognition processor
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("Processor")
	}

	opts := []OrchestratorOption{
		WithLogger(logger),
		WithAttemptTimeout(cfg.AttemptTimeout),
	}
	if len(cfg.Configs) > 0 {
		opts = append(opts, WithConfigs(cfg.Configs))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return &Processor{
		config:          cfg,
		orchestrator:    NewOrchestrator(cfg.Engine, opts...),
		jobStore:        cfg.JobStore,
		httpClient:      httpClient,
		downloadBackoff: 500 * time.Millisecond,
		logger:          logger,
	}, nil
}

// Recognize runs the whole pipeline for one image
func (p *Processor) Recognize(ctx context.Context, req *RecognizeRequest) (*RecognitionResult, error) {
	startTime := time.Now()
	log := p.logger.With("jobId", req.JobID)

	if p.config.ProcessingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ProcessingTimeout)
		defer cancel()
	}

	// Step 1: Load image
	original, err := p.loadImage(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Info("Step 1: Image loaded", "bytes", len(original), "format", detectImageType(original))

	// Step 2: Decode and preprocess
	buf, err := bitmap.Decode(original)
	if err != nil {
		return nil, apperrors.NewDecodeError(req.JobID, len(original), err)
	}
	threshold := Preprocess(buf)
	preprocessed, err := bitmap.EncodePNG(buf)
	if err != nil {
		return nil, apperrors.NewDecodeError(req.JobID, len(original), err)
	}
	log.Info("Step 2: Image preprocessed",
		"width", buf.Width, "height", buf.Height, "threshold", threshold)

	// Step 3: Recognize
	outcome, err := p.orchestrator.Recognize(ctx, req.JobID, preprocessed, original)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && p.config.ProcessingTimeout > 0 {
			return nil, apperrors.NewProcessingTimeoutError(req.JobID, p.config.ProcessingTimeout, err)
		}
		return nil, err
	}
	log.Info("Step 3: Recognition complete",
		"config", outcome.Best.ConfigUsed,
		"confidence", outcome.Best.Confidence,
		"calls", outcome.Calls,
		"usedFallback", outcome.UsedFallback)

	// Step 4: Normalize
	text := Normalize(outcome.Best.Text)

	result := &RecognitionResult{
		Text:         text,
		Confidence:   outcome.Best.Confidence,
		Level:        GradeConfidence(outcome.Best.Confidence),
		ConfigUsed:   outcome.Best.ConfigUsed,
		ConfigsTried: outcome.Tried,
		Attempts:     outcome.Calls,
		UsedFallback: outcome.UsedFallback,
		DurationMs:   time.Since(startTime).Milliseconds(),
	}

	log.Info("Processing pipeline complete",
		"textLength", len(result.Text), "level", result.Level, "durationMs", result.DurationMs)

	return result, nil
}

// UpdateJobStatus forwards a status change to the job ledger when one is configured
func (p *Processor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.jobStore == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if filename, ok := metadata["filename"].(string); ok {
			update.Filename = filename
		}
		if confidence, ok := metadata["confidence"].(float64); ok {
			update.Confidence = confidence
		}
		if level, ok := metadata["level"].(ConfidenceLevel); ok {
			update.ConfidenceLevel = string(level)
		}
		if configUsed, ok := metadata["configUsed"].(string); ok {
			update.ConfigUsed = configUsed
		}
		if tried, ok := metadata["configsTried"].([]string); ok {
			update.ConfigsTried = tried
		}
		if usedFallback, ok := metadata["usedFallback"].(bool); ok {
			update.UsedFallback = usedFallback
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if errorCode, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = errorCode
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			update.ErrorMessage = errorMsg
		}
	}
	if update.Metadata == nil {
		update.Metadata = map[string]interface{}{}
	}
	update.Metadata["progress"] = progress

	if err := p.jobStore.UpdateJobStatus(ctx, update); err != nil {
		return apperrors.NewStorageFailedError(jobID, err)
	}
	return nil
}

// loadImage loads the image from the request buffer or URL.
// Unusable input is a DecodeError; a download that may succeed later is not.
func (p *Processor) loadImage(ctx context.Context, req *RecognizeRequest) ([]byte, error) {
	var data []byte

	switch {
	case len(req.Image) > 0:
		data = req.Image
	case req.ImageURL != "":
		p.logger.Info("Downloading image", "jobId", req.JobID, "url", req.ImageURL)
		downloaded, err := p.downloadImage(ctx, req.JobID, req.ImageURL)
		if err != nil {
			return nil, p.downloadFailure(req, err)
		}
		data = downloaded
	default:
		return nil, apperrors.NewDecodeError(req.JobID, 0, fmt.Errorf("no image source provided (buffer or URL)"))
	}

	if p.config.MaxImageSize > 0 && int64(len(data)) > p.config.MaxImageSize {
		return nil, apperrors.NewDecodeError(req.JobID, len(data),
			fmt.Errorf("image size exceeds maximum: %d > %d bytes", len(data), p.config.MaxImageSize))
	}
	return data, nil
}

func (p *Processor) downloadFailure(req *RecognizeRequest, err error) error {
	var permanent *permanentError
	switch {
	case errors.As(err, &permanent):
		return apperrors.NewDecodeError(req.JobID, 0, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewProcessingTimeoutError(req.JobID, p.config.ProcessingTimeout, err)
	default:
		return apperrors.NewDownloadError(req.JobID, req.ImageURL, err)
	}
}

// downloadImage fetches an image with retry and exponential backoff
func (p *Processor) downloadImage(ctx context.Context, jobID string, imageURL string) ([]byte, error) {
	const (
		maxRetries = 3
		maxBackoff = 8 * time.Second
	)

	maxReadBytes := p.config.MaxImageSize
	if maxReadBytes <= 0 {
		maxReadBytes = 256 * 1024 * 1024
	}

	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := p.fetchOnce(ctx, imageURL, maxReadBytes)
		if err == nil {
			p.logger.Info("Download successful", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}

		var permanent *permanentError
		if errors.As(err, &permanent) {
			return nil, err
		}

		lastErr = err
		p.logger.Warn("Download attempt failed", "jobId", jobID, "attempt", attempt, "error", err)

		if attempt < maxRetries {
			backoff := p.downloadBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", maxRetries, lastErr)
}

// permanentError stops the download retry loop
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (p *Processor) fetchOnce(ctx context.Context, imageURL string, maxReadBytes int64) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("invalid image URL: %w", err)}
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &permanentError{fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > maxReadBytes {
		return nil, &permanentError{fmt.Errorf("image size exceeds maximum: %d > %d bytes", resp.ContentLength, maxReadBytes)}
	}

	// Read one byte past the limit so oversize bodies are detected by loadImage
	return io.ReadAll(io.LimitReader(resp.Body, maxReadBytes+1))
}

// detectImageType reports the image format from magic bytes, for logging
func detectImageType(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "bmp"
	}
	return "unknown"
}
