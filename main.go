package main

import (
	"context"
	"log"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/api"
	"github.com/Conceptual-Machines/infill-api/internal/config"
	"github.com/Conceptual-Machines/infill-api/internal/generation"
	"github.com/Conceptual-Machines/infill-api/internal/infill"
	"github.com/Conceptual-Machines/infill-api/internal/metrics"
	"github.com/Conceptual-Machines/infill-api/internal/observability"
	"github.com/Conceptual-Machines/infill-api/internal/synth"
	"github.com/Conceptual-Machines/infill-api/internal/workspace"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	environmentProduction = "production"
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

// GetVersion returns the current release version
func GetVersion() string {
	return releaseVersion
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize Sentry
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			Release:          "infill-api@" + releaseVersion,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
			EnableLogs:       true,
			Debug:            cfg.Environment != environmentProduction,
			BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
				// Filter out sensitive data
				if event.Request != nil {
					event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
				}
				return event
			},
		}); err != nil {
			log.Printf("Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s, release: %s)", cfg.Environment, releaseVersion)
			// Flush on shutdown
			defer sentry.Flush(sentryFlushTimeout)
		}
	} else {
		log.Println("⚠️  Sentry not configured (SENTRY_DSN not set)")
	}

	ctx := context.Background()

	mode, err := infill.ParseMode(cfg.InfillMode)
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	// Music model engine, shared by all requests
	factory := generation.NewFactory(cfg.EngineURL, cfg.EngineModel, cfg.EngineCommand, cfg.EngineTimeout)
	engine, err := factory.GetEngine(cfg.EngineBackend)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to create music engine:", err)
	}
	engine = generation.Limited(engine, cfg.GenerationConcurrency)
	log.Printf("🎹 Music engine: %s (model: %s, concurrency: %d)", engine.Name(), cfg.EngineModel, cfg.GenerationConcurrency)

	// SoundFont is loaded once and shared by every render
	renderer, err := synth.LoadSoundFont(cfg.SoundFontPath)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to load SoundFont:", err)
	}
	log.Printf("🔊 SoundFont loaded: %s", renderer.Path())

	cloudwatch, err := metrics.NewClient(ctx, cfg.Environment)
	if err != nil {
		log.Printf("Failed to create CloudWatch client: %v", err)
	}

	services := &api.Services{
		Pipeline:    infill.NewPipeline(engine, infill.DefaultPolicy()),
		Synthesizer: synth.NewSynthesizer(renderer, synth.WavBooster{}, cfg.LoudnessBoostDB),
		Workspaces:  workspace.NewManager(cfg.FileRoot),
		Mode:        mode,
		Langfuse:    observability.InitializeLangfuse(ctx, cfg),
		CloudWatch:  cloudwatch,
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := api.SetupRouter(cfg, services, GetVersion())

	log.Printf("🚀 Starting server on port %s (infill mode: %s)", cfg.Port, mode)
	if err := router.Run(":" + cfg.Port); err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to start server:", err)
	}
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string)
	sensitiveKeys := map[string]bool{
		"authorization": true,
		"cookie":        true,
		"x-api-key":     true,
	}

	for k, v := range headers {
		if sensitiveKeys[k] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
