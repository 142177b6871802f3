package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload validation
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"524288000"` // 500MB

	// Default transcription options
	DefaultLanguage string `env:"DEFAULT_LANGUAGE" envDefault:"en-US"`
	MaxSpeakers     int    `env:"MAX_SPEAKERS" envDefault:"5"`

	Job       JobConfig
	Stream    StreamConfig
	RateLimit RateLimitConfig

	AWS   AWSConfig
	Azure AzureConfig
	GCP   GCPConfig

	Pricing PricingConfig
}

// JobConfig tunes the orchestrator's retry and polling behaviour.
type JobConfig struct {
	Timeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"600s"`
	UploadRetries  int           `env:"JOB_UPLOAD_RETRIES" envDefault:"3"`
	UploadBackoff  time.Duration `env:"JOB_UPLOAD_BACKOFF" envDefault:"1s"`
	PollBase       time.Duration `env:"JOB_POLL_BASE" envDefault:"2s"`
	PollFactor     float64       `env:"JOB_POLL_FACTOR" envDefault:"1.5"`
	PollCap        time.Duration `env:"JOB_POLL_CAP" envDefault:"30s"`
	PollJitter     float64       `env:"JOB_POLL_JITTER" envDefault:"0.2"`
	MergeGap       float64       `env:"SEGMENT_MERGE_GAP" envDefault:"1.0"`
	PersistResults bool          `env:"PERSIST_RESULTS" envDefault:"true"`

	// ProviderCallsPerSec caps provider API calls across all jobs sharing an
	// adapter. Zero disables the cap.
	ProviderCallsPerSec float64 `env:"JOB_PROVIDER_CALLS_PER_SEC" envDefault:"10"`
}

// StreamConfig tunes websocket streaming sessions.
type StreamConfig struct {
	IdleWindow     time.Duration `env:"STREAM_IDLE_WINDOW" envDefault:"30s"`
	ChunksPerSec   int           `env:"STREAM_CHUNKS_PER_SEC" envDefault:"50"`
	MaxChunkBytes  int           `env:"STREAM_MAX_CHUNK_BYTES" envDefault:"65536"`
	BatchBytes     int           `env:"STREAM_BATCH_BYTES" envDefault:"160000"` // ~5s of 16kHz 16-bit mono
	SendBufferSize int           `env:"STREAM_SEND_BUFFER" envDefault:"32"`
}

// RateLimitConfig tunes the shared per-(user, provider) submission limiter.
type RateLimitConfig struct {
	JobsPerMinute int `env:"RATELIMIT_JOBS_PER_MINUTE" envDefault:"10"`
	Burst         int `env:"RATELIMIT_BURST" envDefault:"3"`
}

// AWSConfig holds S3 + Transcribe settings.
type AWSConfig struct {
	Region    string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"AWS_ACCESS_KEY_ID"`
	SecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Bucket    string `env:"AWS_S3_BUCKET" envDefault:"audio-transcription"`
	Endpoint  string `env:"AWS_S3_ENDPOINT"` // optional, for S3-compatible stores
}

// AzureConfig holds Blob Storage + Speech batch transcription settings.
type AzureConfig struct {
	SpeechKey     string        `env:"AZURE_SPEECH_KEY"`
	Region        string        `env:"AZURE_REGION" envDefault:"westeurope"`
	StorageURL    string        `env:"AZURE_STORAGE_URL"` // https://{account}.blob.core.windows.net
	StorageSAS    string        `env:"AZURE_STORAGE_SAS"` // container-scoped SAS query string
	Container     string        `env:"AZURE_CONTAINER" envDefault:"audio-transcription"`
	ClientTimeout time.Duration `env:"AZURE_CLIENT_TIMEOUT" envDefault:"30s"`
}

// GCPConfig holds Cloud Storage + Speech-to-Text settings.
type GCPConfig struct {
	ProjectID     string        `env:"GCP_PROJECT_ID"`
	Bucket        string        `env:"GCS_BUCKET" envDefault:"audio-transcription"`
	AccessToken   string        `env:"GCP_ACCESS_TOKEN"`
	ClientTimeout time.Duration `env:"GCP_CLIENT_TIMEOUT" envDefault:"30s"`
}

// PricingConfig carries per-minute USD rates, loaded once at startup and
// treated as immutable afterwards. Defaults track published provider pricing.
type PricingConfig struct {
	AWSPerMinute       float64 `env:"PRICE_AWS_PER_MINUTE" envDefault:"0.024"`
	AWSDiarization     float64 `env:"PRICE_AWS_DIARIZATION" envDefault:"0"`
	AzurePerMinute     float64 `env:"PRICE_AZURE_PER_MINUTE" envDefault:"0.0166667"`
	AzureDiarization   float64 `env:"PRICE_AZURE_DIARIZATION" envDefault:"0"`
	GCPPerMinute       float64 `env:"PRICE_GCP_PER_MINUTE" envDefault:"0.024"`
	GCPDiarization     float64 `env:"PRICE_GCP_DIARIZATION" envDefault:"0.004"`
	StoragePerGBMonth  float64 `env:"PRICE_STORAGE_PER_GB_MONTH" envDefault:"0.023"`
	RequestOverheadUSD float64 `env:"PRICE_REQUEST_OVERHEAD" envDefault:"0.00002"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}

	return cfg, nil
}
