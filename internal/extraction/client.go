package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/observability"
	"github.com/lexiqai/clinic-gateway/internal/resilience"
)

// maxResponseBytes caps the extraction response body.
const maxResponseBytes = 1 << 20

// Result is the untyped object returned by the extraction endpoint.
type Result map[string]any

// Extractor is implemented by Client and by test fakes.
type Extractor interface {
	Extract(ctx context.Context, transcript string, kind forms.Kind) (Result, error)
}

// Request is the body sent to the extraction endpoint.
type Request struct {
	Transcript string     `json:"transcript"`
	FormType   forms.Kind `json:"formType"`
}

// Client posts transcripts to the extraction endpoint. It never retries; a
// failed extraction is retried by the user re-recording.
type Client struct {
	url            string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewClient creates a client for url. A nil breaker disables fail-fast.
func NewClient(url string, timeout time.Duration, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:            url,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: breaker,
		logger:         logger.With().Str("component", "extraction").Logger(),
	}
}

// Breaker returns the client's circuit breaker, or nil.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.circuitBreaker }

// Extract sends transcript and kind and returns the decoded object. Every
// failure wraps ErrExtractionFailed except a blank transcript.
func (c *Client) Extract(ctx context.Context, transcript string, kind forms.Kind) (Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	started := time.Now()
	var result Result
	call := func() error {
		var err error
		result, err = c.post(ctx, Request{Transcript: transcript, FormType: kind})
		return err
	}

	var err error
	if c.circuitBreaker != nil {
		err = c.circuitBreaker.Call(call)
		observability.UpdateCircuitBreakerState(c.circuitBreaker.Name(), int(c.circuitBreaker.GetState()))
		if err != nil {
			observability.IncrementCircuitBreakerFailures(c.circuitBreaker.Name())
		}
	} else {
		err = call()
	}
	observability.RecordExtraction(string(kind), started, err == nil)

	if err != nil {
		c.logger.Warn().Err(err).Str("form_type", string(kind)).Msg("Extraction failed")
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	c.logger.Debug().
		Str("form_type", string(kind)).
		Int("keys", len(result)).
		Dur("duration", time.Since(started)).
		Msg("Extraction completed")
	return result, nil
}

func (c *Client) post(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is %T, not an object", decoded)
	}
	if err := Validate(req.FormType, obj); err != nil {
		return nil, fmt.Errorf("unusable %s result: %w", req.FormType, err)
	}
	return Result(obj), nil
}
