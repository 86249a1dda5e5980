package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/handwriting-worker/internal/config"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

// NewEngine builds the recognition engine named by engine ("tesseract" or "remote").
// An unreachable vision service is logged, not fatal; its attempts fail as unavailable.
func NewEngine(ctx context.Context, engine string, cfg *config.Config, logger *logging.Logger) (processor.Engine, error) {
	switch engine {
	case config.EngineTesseract:
		return processor.NewTesseractOCR(&processor.TesseractConfig{Language: cfg.TesseractLanguage}), nil

	case config.EngineRemote:
		if cfg.VisionURL == "" {
			return nil, fmt.Errorf("VISION_URL is required for the remote engine")
		}
		client, err := NewVisionClient(&VisionClientConfig{
			BaseURL:         cfg.VisionURL,
			Language:        cfg.TesseractLanguage,
			ConfidenceScale: cfg.VisionScale,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(healthCtx); err != nil {
			logger.Warn("Vision service health check failed", "url", cfg.VisionURL, "error", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}
