package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
)

const (
	DefaultEndpoint = "http://127.0.0.1:8000/transcribe/"

	// FallbackText is returned when the endpoint answers without a transcription.
	FallbackText = "Sorry, could not transcribe."

	formField       = "audio"
	defaultFilename = "recording.webm"
	defaultMIMEType = "audio/webm"
	maxErrorBody    = 512
)

// Config contains transcription client configuration.
type Config struct {
	Endpoint string
	// Timeout bounds one round trip. Zero leaves the request bounded only by
	// the caller's context and the endpoint.
	Timeout time.Duration
}

// Client posts recorded clips to the transcription endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records transcription results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default().With("component", "transcription"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcriptionResponse struct {
	Transcription *string `json:"transcription"`
}

// Transcribe sends clip as multipart field "audio" and returns the recognized
// text, or FallbackText when the response carries none. Every failure is
// wrapped in domain.ErrTranscriptionFailed.
func (c *Client) Transcribe(ctx context.Context, clip domain.AudioClip) (string, error) {
	started := time.Now()

	text, err := c.do(ctx, clip)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		c.metrics.RecordTranscription("error", elapsed)
		return "", fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, err)
	}
	if text == "" {
		c.metrics.RecordTranscription("fallback", elapsed)
		c.logger.Info("endpoint returned no transcription, using fallback")
		return FallbackText, nil
	}

	c.metrics.RecordTranscription("ok", elapsed)
	return text, nil
}

func (c *Client) do(ctx context.Context, clip domain.AudioClip) (string, error) {
	body, contentType, err := createMultipartBody(clip)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if parsed.Transcription == nil {
		return "", nil
	}
	return *parsed.Transcription, nil
}

func createMultipartBody(clip domain.AudioClip) (io.Reader, string, error) {
	filename := clip.Filename
	if filename == "" {
		filename = defaultFilename
	}
	mimeType := clip.MIMEType
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
