package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/plantguard/edge/internal/logger"
)

// HTTPConfig configures the sidecar tensor service backend.
type HTTPConfig struct {
	ServiceURL string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// HTTPLoader serves models hosted by a separate inference process (for
// example an accelerator daemon) over a small JSON API:
//
//	GET  /api/v1/models/{name}        -> ModelInfo
//	POST /api/v1/models/{name}/infer  Tensor -> Tensor
//	GET  /health/ready
type HTTPLoader struct {
	serviceURL string
	httpClient *http.Client
	logger     *logger.Logger
	maxRetries int
	retryDelay time.Duration
}

// ModelInfo describes a model hosted by the tensor service.
type ModelInfo struct {
	Name        string `json:"name"`
	InputShape  []int  `json:"input_shape"`
	OutputShape []int  `json:"output_shape"`
}

// NewHTTPLoader creates a new tensor service client
func NewHTTPLoader(cfg HTTPConfig, log *logger.Logger) *HTTPLoader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &HTTPLoader{
		serviceURL: strings.TrimRight(cfg.ServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:     log,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Load resolves the model by the base name of path and fetches its shapes.
func (l *HTTPLoader) Load(ctx context.Context, path string) (Model, error) {
	name := filepath.Base(path)
	endpoint := fmt.Sprintf("%s/api/v1/models/%s", l.serviceURL, url.PathEscape(name))

	var info ModelInfo
	if err := l.doJSON(ctx, http.MethodGet, endpoint, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to describe model %s: %w", name, err)
	}
	if _, err := NumElements(info.InputShape); err != nil {
		return nil, fmt.Errorf("model %s reports invalid input shape: %w", name, err)
	}

	l.logger.Info("Remote model attached",
		"name", name,
		"service_url", l.serviceURL,
		"input_shape", info.InputShape,
		"output_shape", info.OutputShape,
	)

	return &httpModel{loader: l, name: name, info: info}, nil
}

// HealthCheck checks if the tensor service is ready
func (l *HTTPLoader) HealthCheck(ctx context.Context) error {
	return l.doJSON(ctx, http.MethodGet, l.serviceURL+"/health/ready", nil, nil)
}

// Close releases idle connections.
func (l *HTTPLoader) Close() error {
	l.httpClient.CloseIdleConnections()
	return nil
}

// doJSON sends body (when non-nil) as JSON and decodes the response into
// out (when non-nil).
func (l *HTTPLoader) doJSON(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// StatusError is returned when the tensor service answers with a non-200
// status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tensor service returned status %d: %s", e.Code, e.Body)
}

// retryable reports whether a failed call is worth repeating. Client-side
// errors (4xx) are not.
func retryable(err error) bool {
	if se, ok := err.(*StatusError); ok {
		return se.Code >= 500
	}
	return true
}

type httpModel struct {
	loader *HTTPLoader
	name   string
	info   ModelInfo
}

func (m *httpModel) InputShape() []int {
	return append([]int(nil), m.info.InputShape...)
}

// Run posts the tensor with retry logic
func (m *httpModel) Run(ctx context.Context, input Tensor) (Tensor, error) {
	if !sameShape(input.Shape, m.info.InputShape) {
		return Tensor{}, fmt.Errorf("%w: model expects %v, got %v", ErrShapeMismatch, m.info.InputShape, input.Shape)
	}

	endpoint := fmt.Sprintf("%s/api/v1/models/%s/infer", m.loader.serviceURL, url.PathEscape(m.name))
	var lastErr error

	for attempt := 0; attempt <= m.loader.maxRetries; attempt++ {
		if attempt > 0 {
			m.loader.logger.Debug("Retrying inference",
				"model", m.name,
				"attempt", attempt,
				"max_retries", m.loader.maxRetries,
			)
			select {
			case <-ctx.Done():
				return Tensor{}, ctx.Err()
			case <-time.After(m.loader.retryDelay):
			}
		}

		startTime := time.Now()
		var out Tensor
		err := m.loader.doJSON(ctx, http.MethodPost, endpoint, input, &out)
		if err == nil {
			if _, shapeErr := NewTensor(out.Shape, out.Data); shapeErr != nil {
				return Tensor{}, fmt.Errorf("tensor service returned malformed output: %w", shapeErr)
			}
			m.loader.logger.Debug("Inference completed",
				"model", m.name,
				"request_duration_ms", time.Since(startTime).Milliseconds(),
			)
			return out, nil
		}

		lastErr = err
		m.loader.logger.Warn("Inference attempt failed",
			"model", m.name,
			"attempt", attempt+1,
			"error", err,
		)
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}

	return Tensor{}, fmt.Errorf("inference failed after %d attempts: %w", m.loader.maxRetries+1, lastErr)
}

func (m *httpModel) Close() error {
	return nil
}
