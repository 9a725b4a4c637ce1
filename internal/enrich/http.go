package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antoniostano/acolyte/internal/reliability"
)

const maxResponseBytes = 1 << 20

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Messages []message `json:"messages"`
	UserID   string    `json:"userId"`
	APIKey   string    `json:"apiKey,omitempty"`
}

type response struct {
	Context string `json:"context"`
}

// HTTPEnricher asks a context service for material relevant to a user message.
type HTTPEnricher struct {
	url    string
	userID string
	client *http.Client
}

func NewHTTPEnricher(url, userID string) *HTTPEnricher {
	return &HTTPEnricher{
		url:    strings.TrimSpace(url),
		userID: strings.TrimSpace(userID),
		client: &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enrich returns the service's context for text, or "" when it has none.
func (e *HTTPEnricher) Enrich(ctx context.Context, credential, text string) (string, error) {
	payload, err := json.Marshal(request{
		Messages: []message{{Role: "user", Content: text}},
		UserID:   e.userID,
		APIKey:   credential,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if !reliability.IsSuccessStatus(res.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("context service status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Context), nil
}
