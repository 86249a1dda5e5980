/**
 * Handwriting Recognition Worker - Main Entry Point
 *
 * Consumes recognition jobs from Redis and runs each image through the
 * preprocessing pipeline and the multi-configuration recognition cascade.
 *
 * Architecture:
 * - Direct Redis LIST consumer (default) or asynq consumer for the job queue
 * - Preprocessing: grayscale, contrast, blur, Otsu binarization
 * - Recognition: handwriting, cursive and mixed configurations with early
 *   exit, plus a fallback pass on the original image
 * - Optional PostgreSQL ledger for job status
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/handwriting-worker/internal/clients"
	"github.com/adverant/nexus/handwriting-worker/internal/config"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
	"github.com/adverant/nexus/handwriting-worker/internal/queue"
	"github.com/adverant/nexus/handwriting-worker/internal/storage"
)

// consumer is the common surface of both queue backends
type consumer interface {
	Start() error
	Stop() error
}

// asynqConsumer adapts queue.Consumer to the context-free consumer interface
type asynqConsumer struct {
	*queue.Consumer
}

func (c asynqConsumer) Start() error { return c.Consumer.Start(context.Background()) }
func (c asynqConsumer) Stop() error  { return c.Consumer.Stop(context.Background()) }

func main() {
	logger := logging.NewLogger("Worker")

	if err := godotenv.Load(".env.handwriting"); err != nil {
		logger.Warn(".env.handwriting not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Handwriting worker starting...",
		"engine", cfg.Engine,
		"queue", cfg.QueueName,
		"backend", cfg.QueueBackend,
		"workers", cfg.WorkerConcurrency)

	ctx := context.Background()

	var jobStore processor.JobStatusStore
	if cfg.DatabaseURL != "" {
		logger.Info("Connecting to PostgreSQL job ledger...")
		db, err := storage.NewPostgresClient(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		jobStore = db
	} else {
		logger.Info("DATABASE_URL not set, job ledger disabled")
	}

	engine, err := clients.NewEngine(ctx, cfg.Engine, cfg, logging.NewLogger("Engine"))
	if err != nil {
		logger.Error("Failed to initialize recognition engine", "error", err)
		os.Exit(1)
	}

	proc, err := processor.NewProcessor(&processor.ProcessorConfig{
		Engine:            engine,
		JobStore:          jobStore,
		MaxImageSize:      cfg.MaxImageSize,
		ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
		AttemptTimeout:    cfg.AttemptTimeout(),
		Logger:            logging.NewLogger("Processor"),
	})
	if err != nil {
		logger.Error("Failed to initialize processor", "error", err)
		os.Exit(1)
	}

	queueConsumer, err := newConsumer(cfg, proc)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	if err := queueConsumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	logger.Info("Handwriting worker is READY, waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown...", "signal", sig.String())

	if err := queueConsumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
}

func newConsumer(cfg *config.Config, proc processor.RecognitionProcessorInterface) (consumer, error) {
	if cfg.QueueBackend == config.BackendAsynq {
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			Processor:   proc,
			Logger:      logging.NewLogger("AsynqConsumer"),
		})
		if err != nil {
			return nil, err
		}
		return asynqConsumer{c}, nil
	}

	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		Processor:   proc,
		ResultTTL:   cfg.ResultTTL(),
		Logger:      logging.NewLogger("RedisConsumer"),
	})
}
