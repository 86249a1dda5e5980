/**
 * PostgreSQL Client for the Handwriting Recognition Worker
 *
 * Keeps an optional ledger of job status: outcome, confidence, the
 * configurations that were tried and the error code of failed jobs.
 * Recognized text and images are never written here.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
)

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS handwriting;

	CREATE TABLE IF NOT EXISTS handwriting.recognition_jobs (
		id                 TEXT PRIMARY KEY,
		filename           TEXT,
		status             TEXT NOT NULL,
		confidence         NUMERIC(5,2),
		confidence_level   TEXT,
		config_used        TEXT,
		configs_tried      TEXT[] NOT NULL DEFAULT '{}',
		used_fallback      BOOLEAN NOT NULL DEFAULT FALSE,
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Filename         string
	Status           string
	Confidence       float64
	ConfidenceLevel  string
	ConfigUsed       string
	ConfigsTried     []string
	UsedFallback     bool
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// JobRecord is a stored job row
type JobRecord struct {
	ID               string
	Filename         string
	Status           string
	Confidence       float64
	ConfidenceLevel  string
	ConfigUsed       string
	ConfigsTried     []string
	UsedFallback     bool
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// sanitizeConfidence clamps to [0, 100] and rounds to 2 decimals for NUMERIC(5,2)
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0 || math.IsNaN(confidence) {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return math.Round(confidence*100) / 100
}

// NewPostgresClient creates a new PostgreSQL client and ensures the ledger table exists
func NewPostgresClient(ctx context.Context, databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &PostgresClient{db: db}
	if err := client.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return client, nil
}

// EnsureSchema creates the ledger table when missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create job ledger schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row; empty fields keep their stored values
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	configsTried := update.ConfigsTried
	if configsTried == nil {
		configsTried = []string{}
	}

	query := `
		INSERT INTO handwriting.recognition_jobs (
			id, filename, status, confidence, confidence_level, config_used,
			configs_tried, used_fallback, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, NULLIF($4::NUMERIC(5,2), 0), NULLIF($5, ''), NULLIF($6, ''),
			$7, $8, NULLIF($9, 0),
			NULLIF($10, ''), NULLIF($11, ''), COALESCE($12::jsonb, '{}'::jsonb), NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			filename = COALESCE(EXCLUDED.filename, handwriting.recognition_jobs.filename),
			status = EXCLUDED.status,
			confidence = COALESCE(EXCLUDED.confidence, handwriting.recognition_jobs.confidence),
			confidence_level = COALESCE(EXCLUDED.confidence_level, handwriting.recognition_jobs.confidence_level),
			config_used = COALESCE(EXCLUDED.config_used, handwriting.recognition_jobs.config_used),
			configs_tried = CASE
				WHEN cardinality(EXCLUDED.configs_tried) > 0 THEN EXCLUDED.configs_tried
				ELSE handwriting.recognition_jobs.configs_tried
			END,
			used_fallback = EXCLUDED.used_fallback OR handwriting.recognition_jobs.used_fallback,
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, handwriting.recognition_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = handwriting.recognition_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Filename,         // $2
		update.Status,           // $3
		sanitizedConfidence,     // $4
		update.ConfidenceLevel,  // $5
		update.ConfigUsed,       // $6
		pq.Array(configsTried),  // $7
		update.UsedFallback,     // $8
		update.ProcessingTimeMs, // $9
		update.ErrorCode,        // $10
		update.ErrorMessage,     // $11
		metadataJSON,            // $12
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.2f): %w",
			update.JobID, update.Status, sanitizedConfidence, err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, filename, status, confidence, confidence_level, config_used,
			configs_tried, used_fallback, processing_time_ms,
			error_code, error_message, metadata, created_at, updated_at
		FROM handwriting.recognition_jobs
		WHERE id = $1
	`

	var (
		record                                JobRecord
		filename, confidenceLevel, configUsed sql.NullString
		errorCode, errorMessage               sql.NullString
		confidence                            sql.NullFloat64
		processingTimeMs                      sql.NullInt64
		configsTried                          pq.StringArray
		metadataJSON                          []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&record.ID, &filename, &record.Status, &confidence, &confidenceLevel, &configUsed,
		&configsTried, &record.UsedFallback, &processingTimeMs,
		&errorCode, &errorMessage, &metadataJSON, &record.CreatedAt, &record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	record.Filename = filename.String
	record.Confidence = confidence.Float64
	record.ConfidenceLevel = confidenceLevel.String
	record.ConfigUsed = configUsed.String
	record.ConfigsTried = []string(configsTried)
	record.ProcessingTimeMs = processingTimeMs.Int64
	record.ErrorCode = errorCode.String
	record.ErrorMessage = errorMessage.String

	return &record, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
