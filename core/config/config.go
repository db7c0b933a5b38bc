// Package config holds the orchestrator's environment-driven configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the orchestrator's runtime configuration.
type Config struct {
	DBPath           string // ARCHIVE_DB_PATH
	BlobRoot         string // ARCHIVE_BLOB_ROOT
	HTTPAddr         string // ARCHIVE_HTTP_ADDR
	QUICAddr         string // ARCHIVE_QUIC_ADDR
	ProcessorToken   string // ARCHIVE_PROCESSOR_TOKEN

	AuditInterval  time.Duration // ARCHIVE_AUDIT_INTERVAL
	WorkerTTL      time.Duration // ARCHIVE_WORKER_TTL
	ScraperTTL     time.Duration // ARCHIVE_SCRAPER_TTL
	StreamTimeout  time.Duration // ARCHIVE_STREAM_TIMEOUT; not read by the SSE handlers, which use events.StreamIdleTimeout
	StaleClaimAfter  time.Duration // ARCHIVE_STALE_CLAIM_AFTER
	StuckIngestAfter time.Duration // ARCHIVE_STUCK_INGEST_AFTER
	MaxJobAttempts int

	EmbeddingAPIKey   string // optional; loaded but not used by any endpoint
	TranslationAPIKey string // optional; loaded but not used by any endpoint
}

// DefaultConfig returns the orchestrator's default configuration.
func DefaultConfig() Config {
	return Config{
		DBPath:          "./data/orchestrator.db",
		BlobRoot:        "./data/blobs",
		HTTPAddr:        ":8080",
		QUICAddr:        ":8443",
		ProcessorToken:  "",
		AuditInterval:   30 * time.Minute,
		WorkerTTL:       60 * time.Second,
		ScraperTTL:      90 * time.Second,
		StreamTimeout:   30 * time.Minute,
		StaleClaimAfter: 1 * time.Hour,
		StuckIngestAfter: 10 * time.Minute,
		MaxJobAttempts:  3,
	}
}

// FromEnv loads a Config starting from DefaultConfig and overriding with any
// set environment variables.
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("ARCHIVE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ARCHIVE_BLOB_ROOT"); v != "" {
		cfg.BlobRoot = v
	}
	if v := os.Getenv("ARCHIVE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ARCHIVE_QUIC_ADDR"); v != "" {
		cfg.QUICAddr = v
	}
	if v := os.Getenv("ARCHIVE_PROCESSOR_TOKEN"); v != "" {
		cfg.ProcessorToken = v
	}
	if v := os.Getenv("ARCHIVE_AUDIT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AuditInterval = d
		}
	}
	if v := os.Getenv("ARCHIVE_WORKER_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WorkerTTL = d
		}
	}
	if v := os.Getenv("ARCHIVE_SCRAPER_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ScraperTTL = d
		}
	}
	if v := os.Getenv("ARCHIVE_STREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StreamTimeout = d
		}
	}
	if v := os.Getenv("ARCHIVE_STALE_CLAIM_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StaleClaimAfter = d
		}
	}
	if v := os.Getenv("ARCHIVE_STUCK_INGEST_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StuckIngestAfter = d
		}
	}
	if v := os.Getenv("ARCHIVE_MAX_JOB_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxJobAttempts = n
		}
	}
	cfg.EmbeddingAPIKey = os.Getenv("ARCHIVE_EMBEDDING_API_KEY")
	cfg.TranslationAPIKey = os.Getenv("ARCHIVE_TRANSLATION_API_KEY")

	return cfg
}
