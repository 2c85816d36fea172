package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Conceptual-Machines/infill-api/internal/events"
)

// ProcessEngine runs a local model worker once per generation. The worker
// reads one JSON request on stdin and writes one JSON response on stdout.
type ProcessEngine struct {
	command []string
	model   string
}

// NewProcessEngine creates an engine that spawns command (argv form)
func NewProcessEngine(command []string, model string) (*ProcessEngine, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("process engine requires a command")
	}
	return &ProcessEngine{command: command, model: model}, nil
}

func (e *ProcessEngine) Name() string {
	return "process"
}

// Generate runs the worker and decodes its output
func (e *ProcessEngine) Generate(ctx context.Context, request *Request) (events.Sequence, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	input, err := json.Marshal(httpRequest{Model: e.model, Request: request})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &EngineError{Backend: e.Name(), Message: msg}
	}

	var out response
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, &EngineError{Backend: e.Name(), Message: "invalid worker output: " + err.Error()}
	}
	return out.sequence(e.Name())
}
