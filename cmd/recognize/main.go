package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/adverant/nexus/handwriting-worker/internal/clients"
	"github.com/adverant/nexus/handwriting-worker/internal/config"
	"github.com/adverant/nexus/handwriting-worker/internal/export"
	"github.com/adverant/nexus/handwriting-worker/internal/logging"
	"github.com/adverant/nexus/handwriting-worker/internal/processor"
	"github.com/adverant/nexus/handwriting-worker/internal/queue"
)

type options struct {
	imagePath string
	exportDir string
	copy      bool
	engine    string
	enqueue   bool
	jsonOut   bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "recognize: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "recognize: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: recognize [flags] <image>\n")
		flag.PrintDefaults()
	}
	flag.StringVar(&opts.exportDir, "export", "", "Write the recognized text to a timestamped .txt file in this directory")
	flag.BoolVar(&opts.copy, "copy", false, "Copy the recognized text to the clipboard")
	flag.StringVar(&opts.engine, "engine", "", "Recognition engine: tesseract or remote (default from ENGINE)")
	flag.BoolVar(&opts.enqueue, "enqueue", false, "Submit the image to the worker queue instead of recognizing locally")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print the full result as JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing image path")
	}
	opts.imagePath = flag.Arg(0)

	switch opts.engine {
	case "", config.EngineTesseract, config.EngineRemote:
	default:
		return options{}, fmt.Errorf("unknown engine %q", opts.engine)
	}
	if opts.enqueue && (opts.exportDir != "" || opts.copy) {
		return options{}, fmt.Errorf("-export and -copy need a local result and cannot be combined with -enqueue")
	}
	return opts, nil
}

// run writes the result to out; logs go to logOut so out stays machine-readable
func run(ctx context.Context, opts options, out, logOut io.Writer) error {
	_ = godotenv.Load(".env.handwriting")

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if opts.engine != "" {
		cfg.Engine = opts.engine
	}

	image, err := os.ReadFile(opts.imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	if opts.enqueue {
		return enqueue(ctx, cfg, opts.imagePath, image, out)
	}

	logger := logging.NewLoggerTo("Recognize", logOut)
	engine, err := clients.NewEngine(ctx, cfg.Engine, cfg, logger)
	if err != nil {
		return err
	}

	proc, err := processor.NewProcessor(&processor.ProcessorConfig{
		Engine:            engine,
		MaxImageSize:      cfg.MaxImageSize,
		ProcessingTimeout: cfg.ProcessingTimeoutDuration(),
		AttemptTimeout:    cfg.AttemptTimeout(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	result, err := proc.Recognize(ctx, &processor.RecognizeRequest{
		JobID:    "cli-" + uuid.NewString(),
		Filename: filepath.Base(opts.imagePath),
		Image:    image,
	})
	if err != nil {
		return err
	}

	if err := printResult(out, result, opts.jsonOut); err != nil {
		return err
	}

	now := time.Now()
	if opts.exportDir != "" {
		path, err := export.WriteFile(opts.exportDir, result.Text, now)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if path != "" {
			fmt.Fprintf(out, "Exported to %s\n", path)
		}
	}
	if opts.copy {
		if export.CopyText(ctx, result.Text) {
			fmt.Fprintln(out, "Copied to clipboard")
		} else if result.Text != "" {
			fmt.Fprintln(out, "Clipboard unavailable")
		}
	}
	return nil
}

func printResult(out io.Writer, result *processor.RecognitionResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*processor.RecognitionResult
			Tips []string `json:"tips"`
		}{result, processor.AccuracyTips(result.Confidence)})
	}

	if result.Text == "" {
		fmt.Fprintln(out, "No text recognized.")
	} else {
		fmt.Fprintln(out, result.Text)
	}
	fmt.Fprintf(out, "\nConfidence: %.1f%% (%s, config %s", result.Confidence, result.Level, orNone(result.ConfigUsed))
	if result.UsedFallback {
		fmt.Fprint(out, ", fallback")
	}
	fmt.Fprintln(out, ")")
	for _, tip := range processor.AccuracyTips(result.Confidence) {
		fmt.Fprintf(out, "  - %s\n", tip)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func enqueue(ctx context.Context, cfg *config.Config, path string, image []byte, out io.Writer) error {
	job := queue.NewJob(queue.JobPayload{
		Filename: filepath.Base(path),
		Image:    image,
	}, queue.DefaultMaxRetries)

	switch cfg.QueueBackend {
	case config.BackendAsynq:
		producer, err := queue.NewAsynqProducer(cfg.RedisURL, cfg.QueueName, cfg.ResultTTL())
		if err != nil {
			return err
		}
		defer producer.Close()
		if _, err := producer.Enqueue(ctx, job); err != nil {
			return err
		}

	default:
		producer, err := queue.NewRedisProducer(ctx, cfg.RedisURL, cfg.QueueName)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.Enqueue(ctx, job); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Enqueued job %s on %s (%s)\n", job.ID, cfg.QueueName, cfg.QueueBackend)
	return nil
}
