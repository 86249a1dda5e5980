package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/handwriting-worker/internal/errors"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
)

// Live tests run against a real Redis when TEST_REDIS_URL is set.
func liveRedisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	return url
}

func newLiveConsumer(t *testing.T, url, queue string, fake *fakeProcessor) *RedisConsumer {
	t.Helper()
	consumer, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:    url,
		QueueName:   queue,
		Concurrency: 1,
		Processor:   fake,
		ResultTTL:   time.Minute,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewRedisConsumer() error: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys := consumer.keys
		consumer.client.Del(ctx, keys.list, keys.data, keys.processing, keys.completed, keys.failed, keys.results, keys.errors)
		consumer.Stop()
	})
	return consumer
}

func TestRedisConsumerLiveCompleted(t *testing.T) {
	url := liveRedisURL(t)
	queue := "handwriting-test-" + uuid.NewString()
	ctx := context.Background()

	fake := &fakeProcessor{result: &processor.RecognitionResult{Text: "hello world", Confidence: 88, Level: processor.ConfidenceHigh}}
	consumer := newLiveConsumer(t, url, queue, fake)

	producer, err := NewRedisProducer(ctx, url, queue)
	if err != nil {
		t.Fatalf("NewRedisProducer() error: %v", err)
	}
	defer producer.Close()

	job := NewJob(JobPayload{Filename: "note.png", Image: []byte("img")}, 1)
	if err := producer.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if _, _, err := producer.GetResult(ctx, job.ID); !errors.Is(err, ErrResultNotReady) {
		t.Fatalf("GetResult() before processing = %v, want ErrResultNotReady", err)
	}

	if err := consumer.processNextJob(); err != nil {
		t.Fatalf("processNextJob() error: %v", err)
	}

	result, record, err := producer.GetResult(ctx, job.ID)
	if err != nil || record != nil {
		t.Fatalf("GetResult() = %v, %v", record, err)
	}
	if result.Text != "hello world" || result.Confidence != 88 {
		t.Errorf("result = %+v", result)
	}

	stats, err := producer.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["completed"] != 1 || stats["processing"] != 0 || stats["waiting"] != 0 {
		t.Errorf("stats = %v", stats)
	}

	if ttl := consumer.client.TTL(ctx, consumer.keys.results).Val(); ttl <= 0 {
		t.Errorf("results TTL = %v, want positive", ttl)
	}
}

func TestRedisConsumerLiveRetryThenFail(t *testing.T) {
	url := liveRedisURL(t)
	queue := "handwriting-test-" + uuid.NewString()
	ctx := context.Background()

	fake := &fakeProcessor{err: apperrors.NewCapabilityUnavailableError("", "tesseract", errors.New("down"))}
	consumer := newLiveConsumer(t, url, queue, fake)

	producer, err := NewRedisProducer(ctx, url, queue)
	if err != nil {
		t.Fatalf("NewRedisProducer() error: %v", err)
	}
	defer producer.Close()

	job := NewJob(JobPayload{Image: []byte("img")}, 2)
	if err := producer.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}

	// first failure re-queues, second exhausts the retries
	for i := 0; i < 2; i++ {
		if err := consumer.processNextJob(); err != nil {
			t.Fatalf("processNextJob() #%d error: %v", i, err)
		}
	}

	_, record, err := producer.GetResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetResult() error: %v", err)
	}
	if record["error_code"] != string(apperrors.ErrorCapabilityUnavailable) || record["attempts"] != 2.0 {
		t.Errorf("error record = %v", record)
	}
	if len(fake.requests) != 2 {
		t.Errorf("processor calls = %d, want 2", len(fake.requests))
	}
}

func TestRedisConsumerLiveDecodeErrorNotRetried(t *testing.T) {
	url := liveRedisURL(t)
	queue := "handwriting-test-" + uuid.NewString()
	ctx := context.Background()

	fake := &fakeProcessor{err: apperrors.NewDecodeError("", 3, errors.New("not an image"))}
	consumer := newLiveConsumer(t, url, queue, fake)

	producer, err := NewRedisProducer(ctx, url, queue)
	if err != nil {
		t.Fatal(err)
	}
	defer producer.Close()

	job := NewJob(JobPayload{Image: []byte("abc")}, 5)
	if err := producer.Enqueue(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := consumer.processNextJob(); err != nil {
		t.Fatal(err)
	}

	stats, _ := producer.Stats(ctx)
	if stats["failed"] != 1 || stats["waiting"] != 0 {
		t.Errorf("stats = %v", stats)
	}
}

func TestRedisConsumerLiveRequeueUsesListID(t *testing.T) {
	url := liveRedisURL(t)
	queue := "handwriting-test-" + uuid.NewString()
	ctx := context.Background()

	fake := &fakeProcessor{err: apperrors.NewCapabilityUnavailableError("", "tesseract", errors.New("down"))}
	consumer := newLiveConsumer(t, url, queue, fake)

	// a producer body without an "id" field
	listID := "job-" + uuid.NewString()
	body := `{"type":"recognize-handwriting","payload":{"image":"aW1n"},"attempts":0,"maxRetries":3}`
	if err := consumer.client.HSet(ctx, consumer.keys.data, listID, body).Err(); err != nil {
		t.Fatal(err)
	}
	if err := consumer.client.LPush(ctx, consumer.keys.list, listID).Err(); err != nil {
		t.Fatal(err)
	}

	if err := consumer.processNextJob(); err != nil {
		t.Fatalf("processNextJob() error: %v", err)
	}

	queued, err := consumer.client.LRange(ctx, consumer.keys.list, 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0] != listID {
		t.Fatalf("queue = %v, want [%s]", queued, listID)
	}
	if exists, _ := consumer.client.HExists(ctx, consumer.keys.data, "").Result(); exists {
		t.Error("job body re-stored under an empty id")
	}
	if fake.requests[0].JobID != listID {
		t.Errorf("processor saw job id %q, want %q", fake.requests[0].JobID, listID)
	}
}
