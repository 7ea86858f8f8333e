package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds beacon-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	TranscribeEndpoint    string
	TranscribeAPIKey      string
	TranscribeModel       string
	DatabaseURL           string
	SlackWebhookURL       string
	APIToken              string
	S3Endpoint            string
	S3AccessKey           string
	S3SecretKey           string
	S3Bucket              string
	S3UseSSL              bool
	PipelineConcurrency   int
	StageTimeoutSeconds   int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests and pipelines to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for report analysis")
	fs.StringVar(&c.TranscribeEndpoint, "transcribe-endpoint", "https://api.openai.com/v1/audio/transcriptions", "Whisper-compatible transcription API URL")
	fs.StringVar(&c.TranscribeAPIKey, "transcribe-api-key", "", "API key for the transcription service")
	fs.StringVar(&c.TranscribeModel, "transcribe-model", "whisper-1", "transcription model name")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for rescuer notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token for rescuer endpoints (empty = unauthenticated, dev only)")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "S3-compatible endpoint for audio artifacts (empty = in-memory store)")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", "", "S3 access key")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "beacon-artifacts", "S3 bucket holding audio artifacts")
	fs.BoolVar(&c.S3UseSSL, "s3-use-ssl", true, "use TLS for the S3 endpoint")
	fs.IntVar(&c.PipelineConcurrency, "pipeline-concurrency", 8, "max concurrent triage pipeline runs (1..64)")
	fs.IntVar(&c.StageTimeoutSeconds, "stage-timeout-seconds", 60, "per-stage timeout for transcription and analysis calls (1..300)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Claude credentials are required for report analysis
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	// Transcription endpoint and model are required for the voice path
	if c.TranscribeEndpoint == "" {
		errs = append(errs, errors.New("TRANSCRIBE_ENDPOINT is required"))
	}
	if c.TranscribeModel == "" {
		errs = append(errs, errors.New("TRANSCRIBE_MODEL is required"))
	}

	// S3 settings travel together; a bare endpoint is a misconfiguration
	if c.S3Endpoint != "" {
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set"))
		}
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when S3_ENDPOINT is set"))
		}
	}

	if c.PipelineConcurrency <= 0 || c.PipelineConcurrency > 64 {
		errs = append(errs, fmt.Errorf("invalid PIPELINE_CONCURRENCY %d (must be 1..64)", c.PipelineConcurrency))
	}
	if c.StageTimeoutSeconds <= 0 || c.StageTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid STAGE_TIMEOUT_SECONDS %d (must be 1..300)", c.StageTimeoutSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
