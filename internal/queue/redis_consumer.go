/**
 * Direct Redis Queue Consumer for the handwriting worker
 *
 * Compatible with the TypeScript RedisQueue producer: job ids on a LIST,
 * job bodies in a HASH, status tracked with SETs and pushed on a channel.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

var errNoJobs = errors.New("no jobs available")

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *jobRunner
	config *RedisConsumerConfig
	keys   queueKeys
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.RecognitionProcessorInterface
	ResultTTL   time.Duration // 0 keeps results forever
	Logger      *logging.Logger
}

// queueKeys names every Redis key derived from the queue name
type queueKeys struct {
	list       string
	data       string
	processing string
	completed  string
	failed     string
	results    string
	errors     string
	events     string
}

func newQueueKeys(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "handwriting"
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("RedisConsumer")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		runner: &jobRunner{processor: cfg.Processor, logger: cfg.Logger},
		config: cfg,
		keys:   newQueueKeys(cfg.QueueName),
		logger: cfg.Logger,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Queue consumer started successfully")
	return nil
}

// Stop lets in-flight jobs finish, then closes the client
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
					continue
				}
				c.logger.Error("Worker error", "worker", id, "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.list).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	id := result[1]

	// The job is off the list now; finish it even if shutdown starts.
	ctx := context.WithoutCancel(c.ctx)

	jobData, err := c.client.HGet(ctx, c.keys.data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.markFailed(ctx, id, fmt.Errorf("malformed job: %w", err), 0)
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	// the popped list entry is the job's identity; the body's id field is optional
	job.ID = id
	if job.Payload.JobID == "" {
		job.Payload.JobID = id
	}
	if err := job.Payload.Validate(); err != nil {
		c.markFailed(ctx, job.Payload.JobID, err, job.Attempts)
		return err
	}

	c.markProcessing(ctx, job.Payload.JobID)
	c.logger.Info("Processing job", "jobId", job.Payload.JobID, "filename", job.Payload.Filename, "attempt", job.Attempts+1)

	recognition, err := c.runner.run(ctx, &job.Payload)
	if err != nil {
		job.Attempts++
		if isRetryable(err) && job.Attempts < job.MaxRetries {
			c.requeue(ctx, &job)
			return nil
		}
		c.markFailed(ctx, job.Payload.JobID, err, job.Attempts)
		return nil
	}

	c.markCompleted(ctx, job.Payload.JobID, recognition)
	return nil
}

func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) {
	updatedData, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for retry", "jobId", job.Payload.JobID, "error", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.keys.data, job.ID, updatedData)
	pipe.SRem(ctx, c.keys.processing, job.Payload.JobID)
	pipe.LPush(ctx, c.keys.list, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to re-queue job", "jobId", job.Payload.JobID, "error", err)
		return
	}

	c.logger.Info("Job re-queued for retry",
		"jobId", job.Payload.JobID, "attempt", job.Attempts, "maxRetries", job.MaxRetries)
	c.publish(ctx, "retry", job.Payload.JobID)
}

func (c *RedisConsumer) markProcessing(ctx context.Context, jobID string) {
	if err := c.client.SAdd(ctx, c.keys.processing, jobID).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing", "jobId", jobID, "error", err)
	}
	c.publish(ctx, "processing", jobID)
}

func (c *RedisConsumer) markCompleted(ctx context.Context, jobID string, result *processor.RecognitionResult) {
	resultData, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("Failed to marshal result", "jobId", jobID, "error", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, jobID)
	pipe.SAdd(ctx, c.keys.completed, jobID)
	pipe.HSet(ctx, c.keys.results, jobID, resultData)
	if c.config.ResultTTL > 0 {
		pipe.Expire(ctx, c.keys.results, c.config.ResultTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to store result", "jobId", jobID, "error", err)
	}

	c.logger.Info("Job completed successfully", "jobId", jobID)
	c.publish(ctx, "completed", jobID)
}

func (c *RedisConsumer) markFailed(ctx context.Context, jobID string, cause error, attempts int) {
	errorData, err := json.Marshal(errorRecord(jobID, cause, attempts))
	if err != nil {
		c.logger.Error("Failed to marshal error record", "jobId", jobID, "error", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.SRem(ctx, c.keys.processing, jobID)
	pipe.SAdd(ctx, c.keys.failed, jobID)
	pipe.HSet(ctx, c.keys.errors, jobID, errorData)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Failed to store job error", "jobId", jobID, "error", err)
	}

	c.logger.Warn("Job failed", "jobId", jobID, "attempts", attempts, "error", cause)
	c.publish(ctx, "failed", jobID)
}

// publish sends a job event for WebSocket streaming
func (c *RedisConsumer) publish(ctx context.Context, status, jobID string) {
	eventData, _ := json.Marshal(jobEvent(status, jobID, time.Now()))
	if err := c.client.Publish(ctx, c.keys.events, eventData).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "jobId", jobID, "error", err)
	}
}

func jobEvent(status, jobID string, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": now.Format(time.RFC3339),
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

func queueStats(ctx context.Context, client *redis.Client, keys queueKeys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.list)
	processing := pipe.SCard(ctx, keys.processing)
	completed := pipe.SCard(ctx, keys.completed)
	failed := pipe.SCard(ctx, keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
