package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Conceptual-Machines/infill-api/internal/events"
)

const (
	generatePath        = "/generate"
	maxErrorBodyBytes   = 4096
	maxResponseBodySize = 64 << 20
)

// HTTPEngine calls a model sidecar that hosts the transformer
type HTTPEngine struct {
	baseURL string
	model   string
	client  *http.Client
}

type httpRequest struct {
	Model string `json:"model"`
	*Request
}

// NewHTTPEngine creates an engine for the sidecar at baseURL. A zero timeout
// leaves calls unbounded.
func NewHTTPEngine(baseURL, model string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Name() string {
	return "http"
}

// Generate posts the request to the sidecar and decodes the events it returns
func (e *HTTPEngine) Generate(ctx context.Context, request *Request) (events.Sequence, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	out, err := e.do(ctx, request)
	if err != nil {
		return nil, err
	}
	return out.sequence(e.Name())
}

func (e *HTTPEngine) do(ctx context.Context, request *Request) (*response, error) {
	body, err := json.Marshal(httpRequest{Model: e.model, Request: request})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &EngineError{Backend: e.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &EngineError{
			Backend:    e.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(&out); err != nil {
		return nil, &EngineError{Backend: e.Name(), Message: "invalid response: " + err.Error()}
	}
	return &out, nil
}
