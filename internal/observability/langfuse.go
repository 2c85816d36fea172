package observability

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/config"
	langfuse "github.com/henomis/langfuse-go"
	"github.com/henomis/langfuse-go/model"
)

// LangfuseClient wraps the Langfuse client with our configuration
type LangfuseClient struct {
	client  *langfuse.Langfuse
	enabled bool
	ctx     context.Context
}

// InitializeLangfuse creates the Langfuse client. The SDK reads
// LANGFUSE_PUBLIC_KEY, LANGFUSE_SECRET_KEY and LANGFUSE_HOST from the environment.
func InitializeLangfuse(ctx context.Context, cfg *config.Config) *LangfuseClient {
	if !cfg.LangfuseEnabled || cfg.LangfuseSecretKey == "" {
		log.Println("⚠️  Langfuse not configured (LANGFUSE_ENABLED=false or LANGFUSE_SECRET_KEY not set)")
		return &LangfuseClient{enabled: false, ctx: ctx}
	}

	lf := langfuse.New(ctx)

	log.Printf("✅ Langfuse initialized (host: %s)", cfg.LangfuseHost)
	log.Printf("🔍 Langfuse: Public key set: %v, Secret key set: %v",
		os.Getenv("LANGFUSE_PUBLIC_KEY") != "",
		os.Getenv("LANGFUSE_SECRET_KEY") != "")

	return &LangfuseClient{
		client:  lf,
		enabled: true,
		ctx:     ctx,
	}
}

// IsEnabled returns whether Langfuse is enabled
func (c *LangfuseClient) IsEnabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// StartTrace starts a new trace in Langfuse
func (c *LangfuseClient) StartTrace(ctx context.Context, name string, metadata map[string]interface{}) *Trace {
	if !c.IsEnabled() {
		return &Trace{enabled: false, ctx: ctx}
	}

	trace, err := c.client.Trace(&model.Trace{
		Name:     name,
		Metadata: metadata,
	})
	if err != nil {
		log.Printf("⚠️  Failed to create Langfuse trace: %v", err)
		return &Trace{enabled: false, ctx: ctx}
	}

	return &Trace{
		trace:   trace,
		enabled: true,
		ctx:     ctx,
		client:  c.client,
	}
}

// Trace represents a Langfuse trace
type Trace struct {
	trace   *model.Trace
	enabled bool
	ctx     context.Context
	client  *langfuse.Langfuse
}

// Pass describes one finished model pass
type Pass struct {
	Name         string
	Model        string
	Start        time.Time
	Duration     time.Duration
	Input        interface{}
	InputTokens  int
	OutputTokens int
	Err          error
	Metadata     map[string]interface{}
}

// RecordPass adds a finished model pass to the trace as a generation
func (t *Trace) RecordPass(p Pass) {
	if !t.enabled {
		return
	}

	start := p.Start
	end := start.Add(p.Duration)
	gen := &model.Generation{
		TraceID:   t.trace.ID,
		Name:      p.Name,
		Model:     p.Model,
		StartTime: &start,
		Metadata:  p.Metadata,
		Input:     p.Input,
		Usage: model.Usage{
			Input:  p.InputTokens,
			Output: p.OutputTokens,
			Total:  p.InputTokens + p.OutputTokens,
			Unit:   model.ModelUsageUnitTokens,
		},
	}
	if p.Err != nil {
		gen.Level = model.ObservationLevel("ERROR")
		gen.Output = map[string]interface{}{"error": p.Err.Error()}
	} else {
		gen.Output = map[string]interface{}{"events": p.OutputTokens / 3}
	}

	created, err := t.client.Generation(gen, nil)
	if err != nil {
		log.Printf("⚠️  Failed to create Langfuse generation: %v", err)
		return
	}
	created.EndTime = &end
	if _, err := t.client.GenerationEnd(created); err != nil {
		log.Printf("⚠️  Failed to end Langfuse generation: %v", err)
	}
}

// Finish completes the trace and flushes data to Langfuse
func (t *Trace) Finish() {
	if t.enabled && t.client != nil {
		// Flush waits for all queued events to be sent
		t.client.Flush(t.ctx)
	}
}
