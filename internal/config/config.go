package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/logger"
)

// Config holds the application configuration
// Note: This is a stateless service - uploads and outputs only live for the duration of a request
type Config struct {
	// Environment
	Environment string
	Port        string

	// Request workspace root; uploads/ and output/ are created under it
	FileRoot       string
	MaxUploadBytes int64

	// Music model
	EngineBackend         string        // "http" (sidecar) or "process" (subprocess worker)
	EngineURL             string        // base URL of the model sidecar
	EngineModel           string        // checkpoint name passed to the backend
	EngineCommand         []string      // worker command for the process backend
	EngineTimeout         time.Duration // per generation call, 0 = none
	GenerationConcurrency int           // max concurrent generations, 0 = unlimited

	// Infill
	InfillMode string // "full" or "chord"

	// Synthesis
	SoundFontPath   string
	LoudnessBoostDB float64

	// Diagnostics
	ConnectTestDelay time.Duration

	// Observability
	SentryDSN         string // Sentry DSN for error tracking
	LangfusePublicKey string // Langfuse public key
	LangfuseSecretKey string // Langfuse secret key
	LangfuseHost      string // Langfuse host URL (cloud or self-hosted)
	LangfuseEnabled   bool   // Feature flag for Langfuse
}

func Load() *Config {
	return &Config{
		Environment:           getEnv("ENVIRONMENT", "development"),
		Port:                  getEnv("PORT", "8080"),
		FileRoot:              getEnv("FILE_ROOT", "/app/"),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_BYTES", 8<<20)),
		EngineBackend:         getEnv("ENGINE_BACKEND", "http"),
		EngineURL:             getEnv("ENGINE_URL", "http://localhost:8000"),
		EngineModel:           getEnv("ENGINE_MODEL", "stanford-crfm/music-medium-800k"),
		EngineCommand:         strings.Fields(getEnv("ENGINE_COMMAND", "")),
		EngineTimeout:         getEnvDuration("ENGINE_TIMEOUT", 0),
		GenerationConcurrency: getEnvInt("GENERATION_CONCURRENCY", 0),
		InfillMode:            getEnv("INFILL_MODE", "full"),
		SoundFontPath:         getEnv("SOUNDFONT_PATH", "/usr/share/sounds/sf2/TimGM6mb.sf2"),
		LoudnessBoostDB:       getEnvFloat("LOUDNESS_BOOST_DB", 14),
		ConnectTestDelay:      getEnvDuration("CONNECT_TEST_DELAY", 3*time.Second),
		SentryDSN:             getEnv("SENTRY_DSN", ""),
		LangfusePublicKey:     getEnv("LANGFUSE_PUBLIC_KEY", ""),
		LangfuseSecretKey:     getEnv("LANGFUSE_SECRET_KEY", ""),
		LangfuseHost:          getEnv("LANGFUSE_HOST", "https://cloud.langfuse.com"),
		LangfuseEnabled:       getEnv("LANGFUSE_ENABLED", "false") == "true",
	}
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid integer in environment, using default", logger.Fields{"key": key, "value": value, "default": defaultValue})
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.Warn("Invalid number in environment, using default", logger.Fields{"key": key, "value": value, "default": defaultValue})
		return defaultValue
	}
	return f
}

// getEnvDuration accepts Go durations ("3s") or bare seconds ("3")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	logger.Warn("Invalid duration in environment, using default", logger.Fields{"key": key, "value": value, "default": defaultValue.String()})
	return defaultValue
}
