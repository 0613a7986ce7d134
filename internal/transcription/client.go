package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config contains transcription client configuration
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client sends canonical audio to a whisper-style HTTP transcription API.
// It satisfies the Transcriber contract: every failure mode degrades to a
// placeholder transcript.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Stats represents client statistics
type Stats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// apiResponse is the subset of the backend response the client consumes
type apiResponse struct {
	Text string `json:"text"`
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Transcribe sends the audio file at audioPath for transcription. The
// returned transcript is never empty: unintelligible audio yields
// PlaceholderUnclear, backend failures yield a service placeholder with
// the error detail, and any other failure yields PlaceholderError.
func (c *Client) Transcribe(ctx context.Context, audioPath string) string {
	startTime := time.Now()
	c.incrementTotal()

	text, err := c.doRequest(ctx, audioPath)
	if err != nil {
		c.incrementFailed()
		c.logger.Warn("Transcription degraded to placeholder",
			slog.String("audio_path", audioPath),
			slog.String("error", err.Error()),
		)

		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return ServicePlaceholder(reqErr)
		}
		return PlaceholderError
	}

	c.incrementSuccess()
	c.updateAvgResponseTime(time.Since(startTime))

	text = strings.TrimSpace(text)
	if text == "" {
		return PlaceholderUnclear
	}

	return text
}

// requestError marks failures attributable to the transcription service
// rather than to local I/O
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// doRequest performs a single multipart request to the transcription API
func (c *Client) doRequest(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, f); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
	}
	if c.config.Model != "" {
		fields["model"] = c.config.Model
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &requestError{err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &requestError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &requestError{err: fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &requestError{err: fmt.Errorf("failed to parse response JSON: %w", err)}
	}

	return apiResp.Text, nil
}

// Statistics methods
func (c *Client) incrementTotal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return Stats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
	}
}
