package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPRequestInput is the executor input for http_request schedules.
type HTTPRequestInput struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// HTTPRequestHandler performs HTTP requests. A response status of 400 or
// above counts as a failure.
type HTTPRequestHandler struct {
	logger *zap.Logger
	client *http.Client
}

// NewHTTPRequestHandler creates a new HTTP request handler.
func NewHTTPRequestHandler(logger *zap.Logger) *HTTPRequestHandler {
	return &HTTPRequestHandler{
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Execute performs the HTTP request.
func (h *HTTPRequestHandler) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in HTTPRequestInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if in.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	method := in.Method
	if method == "" {
		method = http.MethodGet
	}

	reqCtx := ctx
	if in.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var body io.Reader
	if in.Body != "" {
		body = strings.NewReader(in.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, in.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range in.Headers {
		req.Header.Set(key, value)
	}

	h.logger.Info("Executing HTTP request",
		zap.String("method", method),
		zap.String("url", in.URL))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	result, err := json.Marshal(map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}
