/**
 * Queue producers used by the recognize CLI and tests
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

// DefaultMaxRetries applies when a job does not set its own limit
const DefaultMaxRetries = 3

// ErrResultNotReady is returned while a job has neither a result nor an error
var ErrResultNotReady = errors.New("result not ready")

// wirePayload is the producer side of JobPayload; the image goes out as base64
type wirePayload struct {
	JobID    string                 `json:"jobId"`
	Filename string                 `json:"filename,omitempty"`
	ImageURL string                 `json:"imageUrl,omitempty"`
	Image    string                 `json:"image,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalJSON writes the image as base64, the format UnmarshalJSON reads first
func (p JobPayload) MarshalJSON() ([]byte, error) {
	wire := wirePayload{
		JobID:    p.JobID,
		Filename: p.Filename,
		ImageURL: p.ImageURL,
		Metadata: p.Metadata,
	}
	if len(p.Image) > 0 {
		wire.Image = base64.StdEncoding.EncodeToString(p.Image)
	}
	return json.Marshal(wire)
}

// NewJob builds a queue entry for one image, generating a job id when empty
func NewJob(payload JobPayload, maxRetries int) *RedisJobData {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeRecognize,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}
}

// RedisProducer enqueues jobs for the RedisConsumer and reads back their outcome
type RedisProducer struct {
	client *redis.Client
	keys   queueKeys
}

// NewRedisProducer connects to Redis
func NewRedisProducer(ctx context.Context, redisURL, queueName string) (*RedisProducer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisProducer{client: client, keys: newQueueKeys(queueName)}, nil
}

// Enqueue stores the job body and pushes its id onto the queue
func (p *RedisProducer) Enqueue(ctx context.Context, job *RedisJobData) error {
	if err := job.Payload.Validate(); err != nil {
		return err
	}
	jobData, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.keys.data, job.ID, jobData)
	pipe.LPush(ctx, p.keys.list, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// GetResult returns the stored result, the stored error record, or ErrResultNotReady
func (p *RedisProducer) GetResult(ctx context.Context, jobID string) (*processor.RecognitionResult, map[string]interface{}, error) {
	resultData, err := p.client.HGet(ctx, p.keys.results, jobID).Result()
	if err == nil {
		var result processor.RecognitionResult
		if err := json.Unmarshal([]byte(resultData), &result); err != nil {
			return nil, nil, fmt.Errorf("failed to parse result for %s: %w", jobID, err)
		}
		return &result, nil, nil
	}
	if err != redis.Nil {
		return nil, nil, fmt.Errorf("failed to read result for %s: %w", jobID, err)
	}

	errorData, err := p.client.HGet(ctx, p.keys.errors, jobID).Result()
	if err == redis.Nil {
		return nil, nil, ErrResultNotReady
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read error for %s: %w", jobID, err)
	}
	var record map[string]interface{}
	if err := json.Unmarshal([]byte(errorData), &record); err != nil {
		return nil, nil, fmt.Errorf("failed to parse error for %s: %w", jobID, err)
	}
	return nil, record, nil
}

// Stats returns queue statistics
func (p *RedisProducer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, p.client, p.keys)
}

// Close closes the Redis client
func (p *RedisProducer) Close() error {
	return p.client.Close()
}

// AsynqProducer enqueues recognize-handwriting tasks for the asynq Consumer
type AsynqProducer struct {
	client    *asynq.Client
	queueName string
	retention time.Duration
}

// NewAsynqProducer creates an asynq client; retention keeps completed task results readable
func NewAsynqProducer(redisURL, queueName string, retention time.Duration) (*AsynqProducer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &AsynqProducer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		retention: retention,
	}, nil
}

// NewRecognizeTask builds the asynq task for a payload
func NewRecognizeTask(payload JobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeRecognize, data), nil
}

// Enqueue submits the job; the job id doubles as the asynq task id
func (p *AsynqProducer) Enqueue(ctx context.Context, job *RedisJobData) (*asynq.TaskInfo, error) {
	if err := job.Payload.Validate(); err != nil {
		return nil, err
	}
	task, err := NewRecognizeTask(job.Payload)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(p.queueName),
		asynq.MaxRetry(job.MaxRetries),
		asynq.TaskID(job.ID),
	}
	if p.retention > 0 {
		opts = append(opts, asynq.Retention(p.retention))
	}

	info, err := p.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task %s: %w", job.ID, err)
	}
	return info, nil
}

// Close closes the asynq client
func (p *AsynqProducer) Close() error {
	return p.client.Close()
}
