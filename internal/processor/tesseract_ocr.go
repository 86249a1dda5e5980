/**
 * Tesseract OCR - Local recognition engine
 *
 * Free, offline recognition using Tesseract through gosseract.
 * A fresh client is created for every call so configurations never leak
 * between attempts.
 */

package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR handles recognition using Tesseract
type TesseractOCR struct {
	language      string
	clientFactory func() *gosseract.Client
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	language := "eng"
	if cfg != nil && cfg.Language != "" {
		language = cfg.Language
	}

	return &TesseractOCR{
		language:      language,
		clientFactory: gosseract.NewClient,
	}
}

// Name identifies the engine in logs and errors
func (t *TesseractOCR) Name() string { return "tesseract" }

// Recognize runs one Tesseract pass with the given configuration.
// The call returns as soon as ctx is done; the abandoned client is closed
// by its goroutine once Tesseract finishes.
func (t *TesseractOCR) Recognize(ctx context.Context, image []byte, cfg RecognitionConfig) (*OCRResult, error) {
	type outcome struct {
		result *OCRResult
		err    error
	}

	// Buffered so the goroutine never blocks after a cancellation
	done := make(chan outcome, 1)

	go func() {
		client := t.clientFactory()
		defer client.Close()

		result, err := t.recognizeWithClient(client, image, cfg)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

func (t *TesseractOCR) recognizeWithClient(client *gosseract.Client, image []byte, cfg RecognitionConfig) (*OCRResult, error) {
	startTime := time.Now()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(cfg.PageSegMode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetVariable("tessedit_ocr_engine_mode", fmt.Sprint(cfg.EngineMode)); err != nil {
		return nil, fmt.Errorf("failed to set engine mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if cfg.PreserveInterwordSpaces {
		if err := client.SetVariable("preserve_interword_spaces", "1"); err != nil {
			return nil, fmt.Errorf("failed to set preserve_interword_spaces: %w", err)
		}
	}
	if cfg.DPI > 0 {
		if err := client.SetVariable("user_defined_dpi", fmt.Sprint(cfg.DPI)); err != nil {
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, classifyTesseractError(err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get word confidences: %w", err)
	}

	return &OCRResult{
		Text:       strings.TrimSpace(text),
		Confidence: meanWordConfidence(boxes),
		Words:      wordsFromBoxes(boxes),
		Duration:   time.Since(startTime),
	}, nil
}

// classifyTesseractError marks initialisation failures (missing traineddata or
// library) as an unavailable engine
func classifyTesseractError(err error) error {
	if strings.Contains(err.Error(), "initialize TessBaseAPI") {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return fmt.Errorf("tesseract recognition failed: %w", err)
}

// meanWordConfidence averages word confidences; no words means 0
func meanWordConfidence(boxes []gosseract.BoundingBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return clampConfidence(sum / float64(len(boxes)))
}

func wordsFromBoxes(boxes []gosseract.BoundingBox) []OCRWord {
	words := make([]OCRWord, 0, len(boxes))
	for _, b := range boxes {
		words = append(words, OCRWord{
			Text:       b.Word,
			Confidence: b.Confidence,
			BoundingBox: BoundingBox{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	return words
}

// clampConfidence keeps engine scores inside [0, 100]
func clampConfidence(c float64) float64 {
	if c < 0 || c != c {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
