package signaling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antoniostano/acolyte/internal/reliability"
)

const (
	DefaultRealtimeURL = "https://api.openai.com/v1/realtime"
	DefaultModel       = "gpt-4o-realtime-preview-2024-12-17"
	DefaultModelsURL   = "https://api.openai.com/v1/models"

	sdpContentType = "application/sdp"
	maxAnswerBytes = 1 << 20
	maxErrorBytes  = 4 << 10
)

var (
	ErrSignalingRejected = errors.New("signaling rejected")
	ErrEmptyCredential   = errors.New("credential is required")
	ErrEmptyOffer        = errors.New("offer is required")
)

// RejectedError carries the backend's diagnostic body for a non-2xx handshake.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("signaling rejected: status %d: %s", e.StatusCode, e.Body)
}

func (e *RejectedError) Unwrap() error { return ErrSignalingRejected }

// Retryable reports whether a fresh start has a reasonable chance of succeeding.
// Nothing in this package retries on its own.
func (e *RejectedError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

type Config struct {
	RealtimeURL string
	Model       string
	ModelsURL   string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client performs the SDP offer/answer exchange and the credential probe
// against the realtime backend.
type Client struct {
	realtimeURL string
	model       string
	modelsURL   string
	client      *http.Client
	logger      *slog.Logger
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		cfg.RealtimeURL = DefaultRealtimeURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.ModelsURL) == "" {
		cfg.ModelsURL = DefaultModelsURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		realtimeURL: strings.TrimSpace(cfg.RealtimeURL),
		model:       strings.TrimSpace(cfg.Model),
		modelsURL:   strings.TrimSpace(cfg.ModelsURL),
		client:      client,
		logger:      logger,
	}
}

// Exchange posts the local offer and returns the remote answer. A non-2xx
// response fails with a *RejectedError.
func (c *Client) Exchange(ctx context.Context, credential, offer string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrEmptyCredential
	}
	if strings.TrimSpace(offer) == "" {
		return "", ErrEmptyOffer
	}

	u, err := url.Parse(c.realtimeURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("create signaling request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", sdpContentType)

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send signaling request: %w", err)
	}
	defer res.Body.Close()

	if !reliability.IsSuccessStatus(res.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBytes))
		return "", &RejectedError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("read signaling answer: %w", err)
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("empty signaling answer")
	}
	return answer, nil
}

// Validate probes the models listing with the credential. It never fails:
// blank credentials, transport errors and non-2xx statuses all report false.
func (c *Client) Validate(ctx context.Context, credential string) bool {
	if strings.TrimSpace(credential) == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelsURL, nil)
	if err != nil {
		c.logger.Warn("credential probe request failed", slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	res, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("credential probe failed", slog.String("error", err.Error()))
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBytes))

	valid := reliability.IsSuccessStatus(res.StatusCode)
	c.logger.Debug("credential probe", slog.Int("status", res.StatusCode), slog.Bool("valid", valid))
	return valid
}
