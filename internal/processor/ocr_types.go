/**
 * OCR Types - Shared data structures for recognition operations
 *
 * Common types used by the orchestrator, the Tesseract engine and the
 * remote vision engine
 */

package processor

import (
	"context"
	"errors"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// ErrEngineUnavailable marks an engine failure caused by a missing or unreachable engine
var ErrEngineUnavailable = errors.New("recognition engine unavailable")

// Tesseract engine modes; gosseract exposes page segmentation modes but not these
const (
	OEMLSTMOnly = 1
	OEMDefault  = 3
)

// HandwritingWhitelist is the character set used by the whitelisted configurations
const HandwritingWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789 .,!?;:()-'\""

// RecognitionConfig is one parameter set for a recognition call
type RecognitionConfig struct {
	Name                    string
	PageSegMode             gosseract.PageSegMode
	EngineMode              int
	Whitelist               string // empty means no restriction
	PreserveInterwordSpaces bool
	DPI                     int // 0 leaves the engine default
}

// DefaultConfigs returns the ordered configurations tried on the preprocessed image
func DefaultConfigs() []RecognitionConfig {
	return []RecognitionConfig{
		{
			Name:                    "handwriting",
			PageSegMode:             gosseract.PSM_SINGLE_BLOCK,
			EngineMode:              OEMLSTMOnly,
			Whitelist:               HandwritingWhitelist,
			PreserveInterwordSpaces: true,
			DPI:                     300,
		},
		{
			Name:                    "cursive",
			PageSegMode:             gosseract.PSM_SINGLE_LINE,
			EngineMode:              OEMDefault,
			Whitelist:               HandwritingWhitelist,
			PreserveInterwordSpaces: true,
			DPI:                     300,
		},
		{
			Name:                    "mixed",
			PageSegMode:             gosseract.PSM_AUTO,
			EngineMode:              OEMDefault,
			PreserveInterwordSpaces: true,
			DPI:                     300,
		},
	}
}

// FallbackConfig returns the automatic-segmentation configuration used on the original image
func FallbackConfig() RecognitionConfig {
	return RecognitionConfig{
		Name:        "fallback",
		PageSegMode: gosseract.PSM_AUTO,
		EngineMode:  OEMDefault,
	}
}

// Engine is the external recognition capability
type Engine interface {
	Recognize(ctx context.Context, image []byte, cfg RecognitionConfig) (*OCRResult, error)
}

// OCRResult represents the result of a single engine call
type OCRResult struct {
	Text       string
	Confidence float64 // 0-100
	Words      []OCRWord
	Duration   time.Duration
}

// OCRWord represents a single word with bounding box
type OCRWord struct {
	Text        string
	Confidence  float64
	BoundingBox BoundingBox
}

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// RecognitionAttempt is the outcome of one successful engine call
type RecognitionAttempt struct {
	Config     RecognitionConfig
	Text       string
	Confidence float64
	Duration   time.Duration
}

// BestResult is the running best across attempts
type BestResult struct {
	Text       string
	Confidence float64
	ConfigUsed string
}

// RecognitionResult is what a caller receives for one image
type RecognitionResult struct {
	Text         string          `json:"text"`
	Confidence   float64         `json:"confidence"`
	Level        ConfidenceLevel `json:"level"`
	ConfigUsed   string          `json:"configUsed,omitempty"`
	ConfigsTried []string        `json:"configsTried,omitempty"`
	Attempts     int             `json:"attempts"`
	UsedFallback bool            `json:"usedFallback"`
	DurationMs   int64           `json:"durationMs"`
}
