// Package httpexec runs agent turns against a remote agent runtime that
// streams newline-delimited JSON events over HTTP.
package httpexec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/sortie/pkg/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 10 * time.Minute
	runPath         = "/v1/agents/run"
	maxLineSize     = 4 << 20
	maxErrorBodyLen = 2048
)

var (
	// ErrInvalidBaseURL is returned when the executor has no runtime address.
	ErrInvalidBaseURL = errors.New("invalid agent runtime url")
	// ErrStreamEnded is reported when the stream closes before a result event.
	ErrStreamEnded = errors.New("agent stream ended without a result")
)

// RunRequest is the body posted for one agent turn.
type RunRequest struct {
	Participant string               `json:"participant"`
	Context     protocol.ExecContext `json:"context"`
	Prompt      string               `json:"prompt"`
}

// Executor implements protocol.AgentExecutor over HTTP.
type Executor struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	logger  *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

// WithHeader adds a header to every request, e.g. an API token.
func WithHeader(key, value string) Option {
	return func(e *Executor) {
		e.headers[key] = value
	}
}

func NewExecutor(baseURL string, logger *slog.Logger, opts ...Option) (*Executor, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	e := &Executor{
		baseURL: baseURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
		headers: make(map[string]string),
		logger:  logger.With("module", "http_executor"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Run posts the turn and streams the decoded events. Request and status
// failures are returned directly; failures after the stream opened arrive
// as a result event carrying the error. Result errors keep the kind the
// runtime sent, so an unclassified agent error fails only its node.
func (e *Executor) Run(ctx context.Context, participant string, execCtx protocol.ExecContext, prompt string) (<-chan protocol.AgentEvent, error) {
	body, err := json.Marshal(RunRequest{Participant: participant, Context: execCtx, Prompt: prompt})
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to marshal run request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+runPath, bytes.NewReader(body))
	if err != nil {
		return nil, protocol.NewFatalError(fmt.Errorf("failed to build run request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, protocol.NewTransientError(fmt.Errorf("agent runtime connection failed: %w", err))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()

		return nil, statusError(resp)
	}

	events := make(chan protocol.AgentEvent)

	go e.consume(ctx, resp.Body, participant, events)

	return events, nil
}

func (e *Executor) consume(ctx context.Context, body io.ReadCloser, participant string, events chan<- protocol.AgentEvent) {
	defer close(events)
	defer func() {
		if err := body.Close(); err != nil {
			e.logger.DebugContext(ctx, "Failed to close response body", "error", err)
		}
	}()

	send := func(ev protocol.AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev protocol.AgentEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			e.logger.WarnContext(ctx, "Skipping malformed agent event", "participant", participant, "error", err)

			continue
		}

		if !send(ev) || ev.Kind == protocol.AgentEventResult {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	cause := ErrStreamEnded
	if err := scanner.Err(); err != nil {
		cause = fmt.Errorf("%w: %w", ErrStreamEnded, err)
	}

	send(protocol.AgentEvent{
		Kind:  protocol.AgentEventResult,
		Error: &protocol.AgentError{Kind: protocol.ErrorTransient, Message: cause.Error(), Err: cause},
	})
}

// statusError maps rate limiting and unavailable upstreams to transient
// errors, anything else to fatal.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	err := fmt.Errorf("agent runtime returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return protocol.NewTransientError(err)
	default:
		return protocol.NewFatalError(err)
	}
}
