package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.MaxUploadBytes != 524288000 {
			t.Errorf("MaxUploadBytes = %d, want 524288000", cfg.MaxUploadBytes)
		}
		if got := cfg.Job.Timeout.Seconds(); got != 600 {
			t.Errorf("Job.Timeout = %vs, want 600s", got)
		}
		if cfg.Job.PollFactor != 1.5 {
			t.Errorf("Job.PollFactor = %v, want 1.5", cfg.Job.PollFactor)
		}
		if got := cfg.Stream.IdleWindow.Seconds(); got != 30 {
			t.Errorf("Stream.IdleWindow = %vs, want 30s", got)
		}
		if cfg.AWS.Region != "us-east-1" {
			t.Errorf("AWS.Region = %q, want us-east-1", cfg.AWS.Region)
		}
		if cfg.Pricing.GCPDiarization != 0.004 {
			t.Errorf("Pricing.GCPDiarization = %v, want 0.004", cfg.Pricing.GCPDiarization)
		}
	})

	t.Run("env_values_parsed", func(t *testing.T) {
		c2 := setEnvs(t, map[string]string{
			"JOB_TIMEOUT":           "120s",
			"AZURE_REGION":          "northeurope",
			"STREAM_CHUNKS_PER_SEC": "10",
		})
		defer c2()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got := cfg.Job.Timeout.Seconds(); got != 120 {
			t.Errorf("Job.Timeout = %vs, want 120s", got)
		}
		if cfg.Azure.Region != "northeurope" {
			t.Errorf("Azure.Region = %q, want northeurope", cfg.Azure.Region)
		}
		if cfg.Stream.ChunksPerSec != 10 {
			t.Errorf("Stream.ChunksPerSec = %d, want 10", cfg.Stream.ChunksPerSec)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
	})

	t.Run("missing_required_fails", func(t *testing.T) {
		old := os.Getenv("DATABASE_URL")
		os.Unsetenv("DATABASE_URL")
		defer os.Setenv("DATABASE_URL", old)

		if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
			t.Error("Load should fail without DATABASE_URL")
		}
	})
}

func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	old := make(map[string]string, len(envs))
	for k, v := range envs {
		old[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
	return func() {
		for k, v := range old {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}
}
