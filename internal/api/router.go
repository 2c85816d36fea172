package api

import (
	"github.com/Conceptual-Machines/infill-api/internal/api/handlers"
	apimiddleware "github.com/Conceptual-Machines/infill-api/internal/api/middleware"
	"github.com/Conceptual-Machines/infill-api/internal/config"
	"github.com/Conceptual-Machines/infill-api/internal/infill"
	"github.com/Conceptual-Machines/infill-api/internal/metrics"
	"github.com/Conceptual-Machines/infill-api/internal/observability"
	"github.com/Conceptual-Machines/infill-api/internal/synth"
	"github.com/Conceptual-Machines/infill-api/internal/workspace"
	"github.com/gin-gonic/gin"
)

// Services are created once in main and shared by every request
type Services struct {
	Pipeline    *infill.Pipeline
	Synthesizer *synth.Synthesizer
	Workspaces  *workspace.Manager
	Mode        infill.Mode
	Langfuse    *observability.LangfuseClient
	CloudWatch  *metrics.Client
}

func SetupRouter(cfg *config.Config, svc *Services, version string) *gin.Engine {
	router := gin.New()

	// Recovery middleware (must be first)
	router.Use(apimiddleware.RecoverWithSentry())

	// Sentry middleware for error tracking
	router.Use(apimiddleware.SentryMiddleware())

	// Request tracking and structured logging
	router.Use(apimiddleware.RequestTracking(svc.CloudWatch))

	stats := handlers.NewInfillStats()

	// Health check
	healthHandler := handlers.NewHealthHandler(cfg.EngineBackend, cfg.SoundFontPath, string(svc.Mode), cfg.ConnectTestDelay)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/connect-test", healthHandler.ConnectTest)

	// Metrics endpoint
	metricsHandler := handlers.NewMetricsHandler(version, cfg.EngineBackend, stats)
	router.GET("/api/metrics", metricsHandler.GetMetrics)

	infillHandler := handlers.NewInfillHandler(handlers.InfillDeps{
		Pipeline:       svc.Pipeline,
		Synthesizer:    svc.Synthesizer,
		Workspaces:     svc.Workspaces,
		Mode:           svc.Mode,
		Backend:        cfg.EngineBackend,
		Model:          cfg.EngineModel,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Langfuse:       svc.Langfuse,
		CloudWatch:     svc.CloudWatch,
		Stats:          stats,
	})
	router.POST("/infill", infillHandler.Infill)

	return router
}
