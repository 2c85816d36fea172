package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	"github.com/Conceptual-Machines/infill-api/internal/generation"
	"github.com/Conceptual-Machines/infill-api/internal/infill"
	"github.com/Conceptual-Machines/infill-api/internal/logger"
	"github.com/Conceptual-Machines/infill-api/internal/metrics"
	"github.com/Conceptual-Machines/infill-api/internal/midi"
	"github.com/Conceptual-Machines/infill-api/internal/observability"
	"github.com/Conceptual-Machines/infill-api/internal/synth"
	"github.com/Conceptual-Machines/infill-api/internal/workspace"
	"github.com/gin-gonic/gin"
)

// InfillHandler serves POST /infill
type InfillHandler struct {
	pipeline    *infill.Pipeline
	synthesizer *synth.Synthesizer
	workspaces  *workspace.Manager
	mode        infill.Mode
	backend     string
	model       string
	maxUpload   int64
	langfuse    *observability.LangfuseClient
	cloudwatch  *metrics.Client
	sentry      *metrics.SentryMetrics
	stats       *InfillStats
}

// InfillDeps are the shared resources an InfillHandler runs on
type InfillDeps struct {
	Pipeline       *infill.Pipeline
	Synthesizer    *synth.Synthesizer
	Workspaces     *workspace.Manager
	Mode           infill.Mode
	Backend        string
	Model          string
	MaxUploadBytes int64
	Langfuse       *observability.LangfuseClient
	CloudWatch     *metrics.Client
	Stats          *InfillStats
}

func NewInfillHandler(deps InfillDeps) *InfillHandler {
	stats := deps.Stats
	if stats == nil {
		stats = NewInfillStats()
	}
	mode := deps.Mode
	if mode == "" {
		mode = infill.ModeFull
	}
	return &InfillHandler{
		pipeline:    deps.Pipeline,
		synthesizer: deps.Synthesizer,
		workspaces:  deps.Workspaces,
		mode:        mode,
		backend:     deps.Backend,
		model:       deps.Model,
		maxUpload:   deps.MaxUploadBytes,
		langfuse:    deps.Langfuse,
		cloudwatch:  deps.CloudWatch,
		sentry:      metrics.NewSentryMetrics(),
		stats:       stats,
	}
}

// Infill accepts an intro and an outro MIDI file and responds with a ZIP
// holding the infilled MIDI and its rendering. The request workspace is
// removed after the response body has been written, on every path.
func (h *InfillHandler) Infill(c *gin.Context) {
	start := time.Now()
	h.stats.begin()
	// stays outcomePanic only if a stage panics past this handler
	outcome := outcomePanic
	defer func() {
		duration := time.Since(start)
		h.stats.end(outcome == metrics.OutcomeSuccess)
		h.cloudwatch.RecordInfill(string(h.mode), outcome, duration)
		h.sentry.RecordInfill(c.Request.Context(), string(h.mode), outcome, duration)
	}()

	fields := logger.WithContext(c)
	fields["mode"] = string(h.mode)

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	introFile, err := c.FormFile(fieldIntroFile)
	if err != nil {
		outcome = outcomeUpload
		h.uploadError(c, fieldIntroFile, err)
		return
	}
	outroFile, err := c.FormFile(fieldOutroFile)
	if err != nil {
		outcome = outcomeUpload
		h.uploadError(c, fieldOutroFile, err)
		return
	}

	ws, err := h.workspaces.Acquire()
	if err != nil {
		outcome = outcomeWorkspace
		h.fail(c, http.StatusInternalServerError, "Failed to prepare request workspace", err, fields)
		return
	}
	defer ws.Release()
	fields["workspace_id"] = ws.ID

	if err := c.SaveUploadedFile(introFile, ws.IntroPath()); err != nil {
		outcome = outcomeWorkspace
		h.fail(c, http.StatusInternalServerError, "Failed to save intro_file", err, fields)
		return
	}
	if err := c.SaveUploadedFile(outroFile, ws.OutroPath()); err != nil {
		outcome = outcomeWorkspace
		h.fail(c, http.StatusInternalServerError, "Failed to save outro_file", err, fields)
		return
	}
	logger.Info("Uploads saved", fields)

	trace := h.langfuse.StartTrace(c.Request.Context(), "infill", map[string]interface{}{
		"request_id": c.GetString("request_id"),
		"mode":       string(h.mode),
		"backend":    h.backend,
	})
	defer trace.Finish()

	ctx := infill.WithObserver(c.Request.Context(), h.observer(c.Request.Context(), trace, fields))

	pipelineStart := time.Now()
	seq, err := h.pipeline.Run(ctx, ws.IntroPath(), ws.OutroPath(), h.mode)
	h.sentry.RecordStage(c.Request.Context(), "pipeline", time.Since(pipelineStart), map[string]interface{}{"mode": string(h.mode)})
	if err != nil {
		outcome = stageOf(err)
		if errors.Is(err, midi.ErrMalformedMIDI) {
			h.fail(c, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid MIDI upload: %v", err), err, fields)
			return
		}
		h.fail(c, http.StatusInternalServerError, "Music generation failed", err, fields)
		return
	}

	names := synth.DefaultNames
	if h.mode == infill.ModeChord {
		names = synth.CompingNames
	}

	synthStart := time.Now()
	bundle, err := h.synthesizer.Synthesize(c.Request.Context(), seq, ws.OutputDir, names)
	h.sentry.RecordStage(c.Request.Context(), "synthesize", time.Since(synthStart), nil)
	if err != nil {
		outcome = outcomeSynthesize
		h.fail(c, http.StatusInternalServerError, "Audio synthesis failed", err, fields)
		return
	}

	fields["duration_ms"] = time.Since(start).Milliseconds()
	fields["events"] = seq.Len()
	fields["music_seconds"] = events.TicksToSeconds(seq.End())
	logger.Info("Infill completed", fields)

	c.Header("Content-Type", "application/zip")
	c.FileAttachment(bundle.ArchivePath, archiveDownloadName)
	outcome = metrics.OutcomeSuccess
}

func (h *InfillHandler) observer(ctx context.Context, trace *observability.Trace, fields logger.Fields) infill.PassObserver {
	return func(pass string, req *generation.Request, out events.Sequence, duration time.Duration, err error) {
		passFields := logger.Fields{}
		for k, v := range fields {
			passFields[k] = v
		}
		logger.LogGenerationPass(ctx, h.backend, pass, duration, out.Len(), err, passFields)

		h.cloudwatch.RecordGenerationPass(pass, duration, err == nil)
		trace.RecordPass(observability.Pass{
			Name:     pass,
			Model:    h.model,
			Start:    time.Now().Add(-duration),
			Duration: duration,
			Input: map[string]interface{}{
				"start_time": req.Start,
				"end_time":   req.End,
				"top_p":      req.TopP,
				"inputs":     req.Inputs.Len(),
				"controls":   req.Controls.Len(),
			},
			InputTokens:  len(req.Inputs) + len(req.Controls),
			OutputTokens: len(out),
			Err:          err,
		})
	}
}

func (h *InfillHandler) uploadError(c *gin.Context, field string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":      fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit),
			"request_id": c.GetString("request_id"),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      fmt.Sprintf("%s is required", field),
		"request_id": c.GetString("request_id"),
	})
}

func (h *InfillHandler) fail(c *gin.Context, status int, msg string, err error, fields logger.Fields) {
	if errors.Is(err, context.Canceled) {
		logger.Warn("Infill cancelled by client", fields)
	} else if status >= http.StatusInternalServerError {
		logger.Error(msg, err, fields)
	} else {
		fields["error"] = err.Error()
		logger.Warn(msg, fields)
	}
	c.JSON(status, gin.H{
		"error":      msg,
		"request_id": c.GetString("request_id"),
	})
}

func stageOf(err error) string {
	var stageErr *infill.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return "pipeline"
}
