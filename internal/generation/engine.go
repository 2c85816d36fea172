// Package generation talks to the anticipatory music transformer that
// produces new events. The model runs outside this process.
package generation

import (
	"context"
	"fmt"

	"github.com/Conceptual-Machines/infill-api/internal/events"
)

// Engine defines the interface for music model backends.
// Implementations are shared by all requests and must be safe for concurrent use.
type Engine interface {
	// Generate samples new events over [Start, End] seconds. Inputs before
	// Start are the prompt; Controls are control-tagged events the model
	// conditions on. The returned sequence holds the prompt plus the new
	// events, without controls.
	Generate(ctx context.Context, request *Request) (events.Sequence, error)

	// Name returns the backend name (e.g., "http", "process")
	Name() string
}

// Request contains all parameters needed for one generation pass
type Request struct {
	Start    float64         `json:"start_time"`
	End      float64         `json:"end_time"`
	Inputs   events.Sequence `json:"inputs"`
	Controls events.Sequence `json:"controls"`
	TopP     float64         `json:"top_p"`
}

// Validate checks the request before it is sent to a backend
func (r *Request) Validate() error {
	if r.End < r.Start {
		return fmt.Errorf("generation window ends (%.2fs) before it starts (%.2fs)", r.End, r.Start)
	}
	if r.TopP <= 0 || r.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %v", r.TopP)
	}
	if err := r.Inputs.Validate(); err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	if err := r.Controls.Validate(); err != nil {
		return fmt.Errorf("controls: %w", err)
	}
	for _, tok := range r.Controls {
		if tok < events.ControlOffset {
			return fmt.Errorf("controls must be control-tagged (token %d)", tok)
		}
	}
	return nil
}

// EngineError is returned when a backend rejects or fails a generation
type EngineError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *EngineError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s engine failed (status %d): %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s engine failed: %s", e.Backend, e.Message)
}

// response is the wire format both backends return
type response struct {
	Events events.Sequence `json:"events"`
	Error  string          `json:"error,omitempty"`
}

func (r *response) sequence(backend string) (events.Sequence, error) {
	if r.Error != "" {
		return nil, &EngineError{Backend: backend, Message: r.Error}
	}
	if err := r.Events.Validate(); err != nil {
		return nil, &EngineError{Backend: backend, Message: err.Error()}
	}
	if r.Events == nil {
		return events.Sequence{}, nil
	}
	return r.Events, nil
}
