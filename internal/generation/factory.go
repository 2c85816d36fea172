package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/events"
	"golang.org/x/sync/semaphore"
)

const (
	BackendHTTP    = "http"
	BackendProcess = "process"
)

// Factory creates engines based on the configured backend
type Factory struct {
	url     string
	model   string
	command []string
	timeout time.Duration
}

// NewFactory creates a new engine factory
func NewFactory(url, model string, command []string, timeout time.Duration) *Factory {
	return &Factory{
		url:     url,
		model:   model,
		command: command,
		timeout: timeout,
	}
}

// GetEngine returns the engine for the given backend name
func (f *Factory) GetEngine(backend string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendHTTP, "":
		if f.url == "" {
			return nil, fmt.Errorf("http engine URL not configured")
		}
		return NewHTTPEngine(f.url, f.model, f.timeout), nil

	case BackendProcess:
		return NewProcessEngine(f.command, f.model)

	default:
		return nil, fmt.Errorf("unknown engine backend: %s (allowed: http, process)", backend)
	}
}

// LimitedEngine caps how many generations run at once on a shared engine
type LimitedEngine struct {
	Engine
	sem *semaphore.Weighted
}

// Limited wraps engine so at most n generations run concurrently.
// n <= 0 returns engine unchanged.
func Limited(engine Engine, n int) Engine {
	if n <= 0 {
		return engine
	}
	return &LimitedEngine{Engine: engine, sem: semaphore.NewWeighted(int64(n))}
}

// Generate waits for a free slot, honouring ctx, then delegates
func (l *LimitedEngine) Generate(ctx context.Context, request *Request) (events.Sequence, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for generation slot: %w", err)
	}
	defer l.sem.Release(1)
	return l.Engine.Generate(ctx, request)
}
