/**
 * Asynq Queue Consumer for the handwriting worker
 *
 * Alternative backend to the direct Redis consumer. Tasks of type
 * "recognize-handwriting" carry the same JobPayload; the recognition result
 * is written back through the task's ResultWriter.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/handwriting-worker/internal/errors"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

// Consumer handles job consumption through asynq
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *jobRunner
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.RecognitionProcessorInterface
	Logger      *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("Consumer")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := cfg.Logger
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(),
					"retried", retried,
					"maxRetry", maxRetry,
					"errorCode", apperrors.CodeOf(err),
					"error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	consumer := &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		runner: &jobRunner{processor: cfg.Processor, logger: logger},
		config: cfg,
		logger: logger,
	}

	consumer.mux.HandleFunc(TaskTypeRecognize, consumer.handleRecognize)

	return consumer, nil
}

// retryDelay is exponential backoff: 5s, 10s, 20s, capped at 60s
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	const maxDelay = 60 * time.Second
	if n >= 4 {
		return maxDelay
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping asynq consumer...")
	c.server.Shutdown()
	c.logger.Info("Asynq consumer stopped")
	return nil
}

// handleRecognize processes one recognize-handwriting task
func (c *Consumer) handleRecognize(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	c.logger.Info("Processing task",
		"jobId", payload.JobID, "filename", payload.Filename, "imageBytes", len(payload.Image))

	result, err := c.runner.run(ctx, &payload)
	if err != nil {
		if !isRetryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if writer := task.ResultWriter(); writer != nil {
		resultData, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %v: %w", err, asynq.SkipRetry)
		}
		if _, err := writer.Write(resultData); err != nil {
			c.logger.Warn("Failed to write task result", "jobId", payload.JobID, "error", err)
		}
	}

	return nil
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	exit(1)
}

// exit is swapped out in tests
var exit = os.Exit
