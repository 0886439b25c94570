// Package collab adapts external text generators to the engine's
// Fallback and Cognition contracts.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/reflex/internal/engine"
	reflexotel "github.com/rcliao/reflex/internal/otel"
)

// ErrDeclined is returned when a collaborator chooses not to answer.
var ErrDeclined = engine.ErrDeclined

var tracer = reflexotel.Tracer("github.com/rcliao/reflex/internal/collab")

var (
	_ engine.Fallback  = (*HTTPFallback)(nil)
	_ engine.Fallback  = (*MarkerFallback)(nil)
	_ engine.Fallback  = Declining{}
	_ engine.Cognition = (*HTTPCognition)(nil)
)

type generateRequest struct {
	Input string `json:"input"`
}

type generateResponse struct {
	Text      string `json:"text"`
	Learnable bool   `json:"learnable"`
	Declined  bool   `json:"declined"`
}

// HTTPFallback calls a fallback service: POST {"input"} returning
// {"text", "learnable", "declined"}.
type HTTPFallback struct {
	url        string
	httpClient *http.Client
}

// NewHTTPFallback creates a fallback adapter for the given endpoint.
func NewHTTPFallback(url string) *HTTPFallback {
	return &HTTPFallback{url: url, httpClient: &http.Client{}}
}

func (f *HTTPFallback) Generate(ctx context.Context, input string) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "collab.fallback", trace.WithAttributes(attribute.String("url", f.url)))
	defer span.End()

	var out generateResponse
	if err := post(ctx, f.httpClient, f.url, input, &out); err != nil {
		span.RecordError(err)
		return "", false, fmt.Errorf("fallback: %w", err)
	}
	if out.Declined {
		return "", false, ErrDeclined
	}
	span.SetAttributes(attribute.Bool("learnable", out.Learnable))
	return out.Text, out.Learnable, nil
}

// HTTPCognition calls the full-cognition service: POST {"input"} returning {"text"}.
type HTTPCognition struct {
	url        string
	httpClient *http.Client
}

// NewHTTPCognition creates a cognition adapter for the given endpoint.
func NewHTTPCognition(url string) *HTTPCognition {
	return &HTTPCognition{url: url, httpClient: &http.Client{}}
}

func (c *HTTPCognition) Respond(ctx context.Context, input string) (string, error) {
	ctx, span := tracer.Start(ctx, "collab.cognition", trace.WithAttributes(attribute.String("url", c.url)))
	defer span.End()

	var out generateResponse
	if err := post(ctx, c.httpClient, c.url, input, &out); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("cognition: %w", err)
	}
	return out.Text, nil
}

func post(ctx context.Context, client *http.Client, url, input string, out any) error {
	body, err := json.Marshal(generateRequest{Input: input})
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Declining is the fallback used when none is configured.
type Declining struct{}

func (Declining) Generate(ctx context.Context, input string) (string, bool, error) {
	return "", false, ErrDeclined
}
