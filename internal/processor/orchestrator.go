/**
 * Recognition Orchestrator
 *
 * Tries each configuration on the preprocessed image in order, keeps the
 * best-scoring non-empty text, stops early on a confident read, and falls
 * back to automatic segmentation on the original image when nothing usable
 * was produced.
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/handwriting-worker/internal/errors"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
)

const (
	// EarlyExitConfidence ends the configuration loop once exceeded with non-empty text
	EarlyExitConfidence = 85.0

	// FallbackConfidence triggers the fallback pass when the best result is below it
	FallbackConfidence = 30.0

	defaultAttemptTimeout = 60 * time.Second
)

// State is a step of the orchestration state machine
type State int

const (
	StatePending State = iota
	StateTryingConfig
	StateAccumulating
	StateFailed
	StateFallback
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateTryingConfig:
		return "trying_config"
	case StateAccumulating:
		return "accumulating"
	case StateFailed:
		return "failed"
	case StateFallback:
		return "fallback"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Orchestrator runs the multi-configuration recognition strategy
type Orchestrator struct {
	engine         Engine
	configs        []RecognitionConfig
	fallback       RecognitionConfig
	attemptTimeout time.Duration
	logger         *logging.Logger
}

// OrchestratorOption customizes an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithConfigs replaces the ordered configuration list
func WithConfigs(configs []RecognitionConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.configs = append([]RecognitionConfig(nil), configs...)
	}
}

// WithFallbackConfig replaces the fallback configuration
func WithFallbackConfig(cfg RecognitionConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		o.fallback = cfg
	}
}

// WithAttemptTimeout bounds every single engine call; zero or less disables the bound
func WithAttemptTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.attemptTimeout = d
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(logger *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates an orchestrator using the default configurations
func NewOrchestrator(engine Engine, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		engine:         engine,
		configs:        DefaultConfigs(),
		fallback:       FallbackConfig(),
		attemptTimeout: defaultAttemptTimeout,
		logger:         logging.NewLogger("Orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestration is the outcome of one run
type Orchestration struct {
	Best         BestResult
	Attempts     []RecognitionAttempt
	Tried        []string // every issued config name, in call order
	Calls        int
	UsedFallback bool
}

// run holds the mutable bookkeeping of one orchestration
type run struct {
	state       State
	index       int
	best        BestResult
	current     RecognitionAttempt
	lastErr     error
	calls       int
	failures    int
	unavailable int
	attempts    []RecognitionAttempt
	tried       []string
	fallback    bool
}

// accept adopts the attempt only when it is strictly more confident and has text
func accept(best BestResult, attempt RecognitionAttempt) BestResult {
	if attempt.Confidence > best.Confidence && attempt.Text != "" {
		return BestResult{
			Text:       attempt.Text,
			Confidence: attempt.Confidence,
			ConfigUsed: attempt.Config.Name,
		}
	}
	return best
}

func isEarlyExit(attempt RecognitionAttempt) bool {
	return attempt.Confidence > EarlyExitConfidence && attempt.Text != ""
}

func needsFallback(best BestResult) bool {
	return best.Confidence < FallbackConfidence || best.Text == ""
}

// Recognize runs the state machine. preprocessed is tried with every
// configuration; original is only used by the fallback pass.
func (o *Orchestrator) Recognize(ctx context.Context, jobID string, preprocessed, original []byte) (*Orchestration, error) {
	r := &run{state: StatePending}

	for r.state != StateDone {
		switch r.state {
		case StatePending:
			r.state = StateTryingConfig

		case StateTryingConfig:
			if r.index >= len(o.configs) {
				r.state = o.afterConfigs(r)
				continue
			}
			cfg := o.configs[r.index]
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("recognition stopped before config %s: %w", cfg.Name, err)
			}

			o.logger.Debug("Trying configuration",
				"jobId", jobID, "config", cfg.Name, "attempt", r.index+1, "of", len(o.configs))

			attempt, err := o.attempt(ctx, preprocessed, cfg)
			r.calls++
			r.tried = append(r.tried, cfg.Name)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, fmt.Errorf("recognition stopped during config %s: %w", cfg.Name, ctxErr)
				}
				r.lastErr = err
				r.state = StateFailed
				continue
			}
			r.current = attempt
			r.state = StateAccumulating

		case StateFailed:
			o.recordFailure(r, jobID, o.configs[r.index].Name)
			r.index++
			r.state = StateTryingConfig

		case StateAccumulating:
			r.attempts = append(r.attempts, r.current)
			r.best = accept(r.best, r.current)

			o.logger.Debug("Configuration complete",
				"jobId", jobID,
				"config", r.current.Config.Name,
				"confidence", r.current.Confidence,
				"textLength", len(r.current.Text),
				"bestConfidence", r.best.Confidence)

			if isEarlyExit(r.current) {
				o.logger.Info("Confident result, skipping remaining configurations",
					"jobId", jobID, "config", r.current.Config.Name, "confidence", r.current.Confidence)
				r.state = StateDone
				continue
			}
			r.index++
			r.state = StateTryingConfig

		case StateFallback:
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("recognition stopped before fallback: %w", err)
			}

			o.logger.Info("Low confidence, trying fallback on original image",
				"jobId", jobID, "bestConfidence", r.best.Confidence)

			r.fallback = true
			attempt, err := o.attempt(ctx, original, o.fallback)
			r.calls++
			r.tried = append(r.tried, o.fallback.Name)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, fmt.Errorf("recognition stopped during fallback: %w", ctxErr)
				}
				r.lastErr = err
				o.recordFailure(r, jobID, o.fallback.Name)
			} else {
				r.attempts = append(r.attempts, attempt)
				// The fallback replaces the best on confidence alone
				if attempt.Confidence > r.best.Confidence {
					r.best = BestResult{
						Text:       attempt.Text,
						Confidence: attempt.Confidence,
						ConfigUsed: attempt.Config.Name,
					}
				}
			}
			r.state = StateDone
		}
	}

	if err := o.finalError(r, jobID); err != nil {
		return nil, err
	}

	return &Orchestration{
		Best:         r.best,
		Attempts:     r.attempts,
		Tried:        r.tried,
		Calls:        r.calls,
		UsedFallback: r.fallback,
	}, nil
}

func (o *Orchestrator) afterConfigs(r *run) State {
	if needsFallback(r.best) {
		return StateFallback
	}
	return StateDone
}

func (o *Orchestrator) recordFailure(r *run, jobID, configName string) {
	r.failures++
	if errors.Is(r.lastErr, ErrEngineUnavailable) {
		r.unavailable++
	}

	attemptErr := apperrors.NewConfigAttemptError(jobID, configName, r.lastErr)
	o.logger.Warn("Configuration failed, continuing",
		"jobId", jobID, "config", configName, "error", attemptErr)
}

// finalError turns a run in which every issued call failed into a surfaced error
func (o *Orchestrator) finalError(r *run, jobID string) error {
	if r.calls == 0 || r.failures < r.calls {
		return nil
	}
	if r.unavailable == r.failures {
		return apperrors.NewCapabilityUnavailableError(jobID, engineName(o.engine), r.lastErr)
	}
	return apperrors.NewAllAttemptsFailedError(jobID, r.calls, r.lastErr)
}

// attempt performs one bounded engine call
func (o *Orchestrator) attempt(ctx context.Context, image []byte, cfg RecognitionConfig) (RecognitionAttempt, error) {
	attemptCtx := ctx
	if o.attemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, o.attemptTimeout)
		defer cancel()
	}

	startTime := time.Now()
	result, err := o.engine.Recognize(attemptCtx, image, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return RecognitionAttempt{}, apperrors.NewProcessingTimeoutError("", o.attemptTimeout, err)
		}
		return RecognitionAttempt{}, err
	}
	if result == nil {
		return RecognitionAttempt{}, fmt.Errorf("engine returned no result for config %s", cfg.Name)
	}

	return RecognitionAttempt{
		Config:     cfg,
		Text:       trimText(result.Text),
		Confidence: clampConfidence(result.Confidence),
		Duration:   time.Since(startTime),
	}, nil
}

func engineName(engine Engine) string {
	if named, ok := engine.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", engine)
}
