/**
 * Vision Client - Remote handwriting recognition engine
 *
 * Sends each recognition attempt to the vision service's internal
 * extract-text endpoint. The service answers synchronously (200) or with a
 * task to poll (202). Transport failures and gateway errors are reported as
 * an unavailable engine so the orchestrator can tell them apart from a bad
 * read.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/handwriting-worker/internal/config"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

const defaultPollInterval = 500 * time.Millisecond

// VisionClient handles communication with the vision service
type VisionClient struct {
	baseURL         string
	language        string
	confidenceScale float64 // multiplier taking the service's score to 0-100
	httpClient      *http.Client
	pollInterval    time.Duration
	logger          *logging.Logger
}

// VisionClientConfig configures a VisionClient
type VisionClientConfig struct {
	BaseURL  string
	Language string
	// ConfidenceScale is "fraction" (0-1, default) or "percent" (0-100)
	ConfidenceScale string
	Logger          *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image       string                 `json:"image"`  // Base64 encoded image
	Format      string                 `json:"format"` // always "base64"
	Language    string                 `json:"language,omitempty"`
	Recognition RecognitionParams      `json:"recognition"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RecognitionParams carries one recognition configuration
type RecognitionParams struct {
	Name                    string `json:"name"`
	PageSegMode             int    `json:"pageSegMode"`
	EngineMode              int    `json:"engineMode"`
	Whitelist               string `json:"whitelist,omitempty"`
	PreserveInterwordSpaces bool   `json:"preserveInterwordSpaces"`
	DPI                     int    `json:"dpi,omitempty"`
}

// VisionOCRResponse represents a synchronous response from the vision endpoint
type VisionOCRResponse struct {
	Success bool          `json:"success"`
	Data    VisionOCRData `json:"data"`
	Message string        `json:"message"`
}

// VisionOCRData contains the extracted text
type VisionOCRData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
}

// VisionOCRAsyncResponse represents an async (202 Accepted) response with taskId
type VisionOCRAsyncResponse struct {
	Success bool `json:"success"`
	Data    struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
	Message string `json:"message"`
}

// TaskStatusResponse represents the response from polling /api/tasks/:taskId
type TaskStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Task TaskInfo `json:"task"`
	} `json:"data"`
	Message string `json:"message"`
}

// TaskInfo contains detailed task information
type TaskInfo struct {
	ID       string                 `json:"id"`
	Status   string                 `json:"status"` // "pending", "processing", "completed", "failed"
	Progress int                    `json:"progress"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// NewVisionClient creates a new vision client
func NewVisionClient(cfg *VisionClientConfig) (*VisionClient, error) {
	scale := 100.0
	switch cfg.ConfidenceScale {
	case "", config.ScaleFraction:
	case config.ScalePercent:
		scale = 1
	default:
		return nil, fmt.Errorf("unknown confidence scale %q", cfg.ConfidenceScale)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("VisionClient")
	}

	return &VisionClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		language:        cfg.Language,
		confidenceScale: scale,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Vision tasks can take time
		},
		pollInterval: defaultPollInterval,
		logger:       logger,
	}, nil
}

// Name identifies the engine in logs and errors
func (c *VisionClient) Name() string { return "remote-vision" }

// Recognize sends one recognition attempt to the vision service
func (c *VisionClient) Recognize(ctx context.Context, image []byte, cfg processor.RecognitionConfig) (*processor.OCRResult, error) {
	startTime := time.Now()

	req := &VisionOCRRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		Format:   "base64",
		Language: c.language,
		Recognition: RecognitionParams{
			Name:                    cfg.Name,
			PageSegMode:             int(cfg.PageSegMode),
			EngineMode:              cfg.EngineMode,
			Whitelist:               cfg.Whitelist,
			PreserveInterwordSpaces: cfg.PreserveInterwordSpaces,
			DPI:                     cfg.DPI,
		},
		Metadata: map[string]interface{}{
			"source":    "handwriting-worker",
			"timestamp": time.Now().Unix(),
		},
	}

	data, err := c.ExtractText(ctx, req)
	if err != nil {
		return nil, err
	}

	return &processor.OCRResult{
		Text:       strings.TrimSpace(data.Text),
		Confidence: percentConfidence(data.Confidence, c.confidenceScale),
		Duration:   time.Since(startTime),
	}, nil
}

// ExtractText posts the request and waits for the text, polling when the service answers asynchronously
func (c *VisionClient) ExtractText(ctx context.Context, req *VisionOCRRequest) (*VisionOCRData, error) {
	c.logger.Debug("Requesting text extraction",
		"config", req.Recognition.Name,
		"imageSize", len(req.Image))

	endpoint := fmt.Sprintf("%s/api/internal/vision/extract-text", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "handwriting-worker")
	httpReq.Header.Set("X-Request-ID", "ocr-"+uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: request to vision service failed: %w", processor.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var ocrResp VisionOCRResponse
		if err := json.Unmarshal(body, &ocrResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if !ocrResp.Success {
			return nil, fmt.Errorf("vision operation failed: %s", ocrResp.Message)
		}
		c.logger.Debug("Text extraction complete",
			"config", req.Recognition.Name,
			"modelUsed", ocrResp.Data.ModelUsed,
			"confidence", ocrResp.Data.Confidence)
		return &ocrResp.Data, nil

	case http.StatusAccepted:
		var asyncResp VisionOCRAsyncResponse
		if err := json.Unmarshal(body, &asyncResp); err != nil {
			return nil, fmt.Errorf("failed to parse async response: %w", err)
		}
		if !asyncResp.Success || asyncResp.Data.TaskID == "" {
			return nil, fmt.Errorf("vision async operation failed: %s", asyncResp.Message)
		}
		return c.WaitForTaskCompletion(ctx, asyncResp.Data.TaskID)

	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: vision service returned status %d", processor.ErrEngineUnavailable, resp.StatusCode)

	default:
		return nil, fmt.Errorf("vision service returned error status %d: %s", resp.StatusCode, string(body))
	}
}

// GetTaskStatus polls for the status of an async task
func (c *VisionClient) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	endpoint := fmt.Sprintf("%s/api/tasks/%s", c.baseURL, taskID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("X-Source", "handwriting-worker")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var statusResp TaskStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	return &statusResp, nil
}

// WaitForTaskCompletion polls the task status until completion or ctx is done
func (c *VisionClient) WaitForTaskCompletion(ctx context.Context, taskID string) (*VisionOCRData, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled while waiting for task: %w", ctx.Err())

		case <-ticker.C:
			status, err := c.GetTaskStatus(ctx, taskID)
			if err != nil {
				c.logger.Warn("Failed to get task status", "taskId", taskID, "error", err)
				continue
			}

			switch status.Data.Task.Status {
			case "completed":
				result := status.Data.Task.Result
				return &VisionOCRData{
					Text:           getStringFromMap(result, "text"),
					Confidence:     getFloatFromMap(result, "confidence"),
					ModelUsed:      getStringFromMap(result, "modelUsed"),
					ProcessingTime: int64(getFloatFromMap(result, "processingTime")),
				}, nil

			case "failed":
				return nil, fmt.Errorf("task failed: %s", status.Data.Task.Error)

			case "pending", "processing":
				continue

			default:
				c.logger.Warn("Unknown task status", "taskId", taskID, "status", status.Data.Task.Status)
			}
		}
	}
}

// HealthCheck verifies the vision service is reachable
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// percentConfidence scales the service's score to 0-100 and clamps it
func percentConfidence(c, scale float64) float64 {
	c *= scale
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// Helper functions for extracting values from result map
func getStringFromMap(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getFloatFromMap(m map[string]interface{}, key string) float64 {
	if val, ok := m[key]; ok {
		if num, ok := val.(float64); ok {
			return num
		}
	}
	return 0.0
}
