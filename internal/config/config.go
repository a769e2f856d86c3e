package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration, loaded from the environment.
type Config struct {
	// Server
	Port         string `envconfig:"PORT" default:"8080"`
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout  int    `envconfig:"READ_TIMEOUT" default:"30"`
	WriteTimeout int    `envconfig:"WRITE_TIMEOUT" default:"30"`

	// Filesystem roots
	OutputDir  string `envconfig:"OUTPUT_DIR" default:"outputs"`
	UploadDir  string `envconfig:"UPLOAD_DIR" default:"uploads"`
	JobDataDir string `envconfig:"JOB_DATA_DIR" default:"job_data"`

	// Job manager
	JobCacheLimit int `envconfig:"JOB_MANAGER_CACHE_LIMIT" default:"200"`

	// Pipeline
	SectionConcurrency int     `envconfig:"SECTION_CONCURRENCY" default:"4"`
	RenderTimeout      int     `envconfig:"RENDER_TIMEOUT" default:"600"` // seconds
	RenderConcurrency  int     `envconfig:"RENDER_CONCURRENCY" default:"2"`
	MaxRefineAttempts  int     `envconfig:"MAX_REFINE_ATTEMPTS" default:"3"`
	MaxCleanRetries    int     `envconfig:"MAX_CLEAN_RETRIES" default:"2"`
	TemperatureBase    float64 `envconfig:"GENERATION_TEMPERATURE_BASE" default:"0.4"`
	TemperatureStep    float64 `envconfig:"GENERATION_TEMPERATURE_STEP" default:"0.3"`

	// Overview-mode script constraints
	OverviewMaxSections     int `envconfig:"OVERVIEW_MAX_SECTIONS" default:"5"`
	OverviewTargetDuration  int `envconfig:"OVERVIEW_TARGET_DURATION" default:"300"`
	OverviewMaxSectionWords int `envconfig:"OVERVIEW_MAX_SECTION_WORDS" default:"160"`

	// Providers
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
	GeminiQCModel  string `envconfig:"GEMINI_QC_MODEL" default:"gemini-2.5-flash"`
	GeminiTTSModel string `envconfig:"GEMINI_TTS_MODEL" default:"gemini-2.5-flash-preview-tts"`
	GeminiTTSRPM   int    `envconfig:"GEMINI_TTS_RPM" default:"10"`

	// Cleanup retention
	OutputCleanupEnabled       bool    `envconfig:"OUTPUT_CLEANUP_ENABLED" default:"true"`
	OutputKeepOnlyFinal        bool    `envconfig:"OUTPUT_KEEP_ONLY_FINAL" default:"true"`
	OutputRetentionHours       float64 `envconfig:"OUTPUT_RETENTION_HOURS" default:"72"`
	FailedOutputRetentionHours float64 `envconfig:"FAILED_OUTPUT_RETENTION_HOURS" default:"24"`
	OrphanOutputRetentionHours float64 `envconfig:"ORPHAN_OUTPUT_RETENTION_HOURS" default:"24"`
	JobMetadataRetentionHours  float64 `envconfig:"JOB_METADATA_RETENTION_HOURS" default:"168"`
	CleanupIntervalMinutes     int     `envconfig:"OUTPUT_CLEANUP_INTERVAL_MINUTES" default:"60"`

	// Upload cleanup
	UploadCleanupEnabled      bool    `envconfig:"UPLOAD_CLEANUP_ENABLED" default:"true"`
	UploadRetentionHours      float64 `envconfig:"UPLOAD_RETENTION_HOURS" default:"48"`
	UploadCleanupMaxDeletions int     `envconfig:"UPLOAD_CLEANUP_MAX_DELETIONS" default:"200"`

	// Startup
	StrictRuntimeChecks bool `envconfig:"STARTUP_STRICT_RUNTIME_CHECKS" default:"false"`
}

const minJobCacheLimit = 25

// Load reads .env files (if present) and processes environment variables.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Warning: could not get working directory: %v", err)
		wd = "."
	}

	envPaths := []string{
		".env.local",
		".env",
		filepath.Join(wd, ".env.local"),
		filepath.Join(wd, ".env"),
	}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded environment variables from %s", path)
			break
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if cfg.JobCacheLimit < minJobCacheLimit {
		cfg.JobCacheLimit = minJobCacheLimit
	}
	if cfg.SectionConcurrency < 1 {
		cfg.SectionConcurrency = 1
	}
	if cfg.GeminiTTSRPM < 1 {
		cfg.GeminiTTSRPM = 1
	}
	if cfg.Environment == "production" {
		// Strict tool checks default on in production unless explicitly set.
		if _, ok := os.LookupEnv("STARTUP_STRICT_RUNTIME_CHECKS"); !ok {
			cfg.StrictRuntimeChecks = true
		}
	}
	return &cfg, nil
}
