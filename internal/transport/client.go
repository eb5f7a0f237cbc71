package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/handsfree-vad/internal/metrics"
)

// VoicePath is the upload endpoint relative to the service base URL
const VoicePath = "/api/voice"

// Multipart layout expected by the voice service
const (
	AudioField    = "audio"
	AudioFilename = "speech.wav"
	AudioMIME     = "audio/wav"
)

// ErrEmptyTranscript is returned when the service heard no words in the
// utterance. It is not a failure of the session.
var ErrEmptyTranscript = errors.New("empty transcript")

// APIError is returned for non-2xx responses and for replies carrying an error code
type APIError struct {
	StatusCode int
	Code       string // error field of the reply, if any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("voice service error %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config contains upload client configuration
type Config struct {
	BaseURL       string
	APIKey        string // optional bearer token
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	RetryBackoff  time.Duration // first retry delay, doubled per attempt
}

// Upload is one encoded utterance
type Upload struct {
	UtteranceID string
	WAV         []byte
	Duration    time.Duration
	SampleRate  int
}

// Reply is the structured response of the voice service
type Reply struct {
	RequestID   string        `json:"request_id"`
	UserText    string        `json:"user_text"`
	ReplyText   string        `json:"reply_text"`
	Audio       []byte        `json:"-"`
	AudioMIME   string        `json:"audio_mime,omitempty"`
	SessionDone bool          `json:"session_done"`
	Latency     time.Duration `json:"latency"`
}

// HasAudio reports whether the reply carries synthesized speech
func (r *Reply) HasAudio() bool {
	return len(r.Audio) > 0
}

// wireReply is the JSON body of /api/voice
type wireReply struct {
	UserText    string  `json:"user_text"`
	ReplyText   string  `json:"reply_text"`
	AudioBase64 *string `json:"audio_base64"`
	AudioMIME   *string `json:"audio_mime"`
	SessionDone bool    `json:"session_done"`
	Error       string  `json:"error"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	EmptyTranscript uint64        `json:"empty_transcripts"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// Client uploads utterances to the voice service
type Client struct {
	config     Config
	endpoint   string
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	emptyTranscript uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new upload client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	if m == nil {
		m = metrics.NewUnregistered()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		endpoint:   strings.TrimRight(config.BaseURL, "/") + VoicePath,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		metrics:    m,
	}, nil
}

// Endpoint returns the full upload URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send uploads an utterance and waits for the reply. Transient failures are
// retried with exponential backoff capped at 30 seconds.
func (c *Client) Send(ctx context.Context, upload *Upload) (*Reply, error) {
	if len(upload.WAV) == 0 {
		return nil, fmt.Errorf("upload %s has no audio", upload.UtteranceID)
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	requestID := uuid.NewString()
	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordUploadRequest()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			c.metrics.RecordUploadRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Warn("Retrying utterance upload",
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()),
			)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				c.incrementFailedRequests()
				c.metrics.RecordUploadFailure(time.Since(startTime).Seconds())
				return nil, ctx.Err()
			}
		}

		reply, err := c.doRequest(ctx, requestID, upload)
		if err == nil {
			latency := time.Since(startTime)
			reply.Latency = latency
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(latency)
			c.metrics.RecordUploadSuccess(latency.Seconds())
			return reply, nil
		}

		if errors.Is(err, ErrEmptyTranscript) {
			c.incrementEmptyTranscript()
			c.metrics.RecordUploadSuccess(time.Since(startTime).Seconds())
			return nil, err
		}

		lastErr = err

		if !isRetryableError(ctx, err) {
			break
		}
	}

	c.incrementFailedRequests()
	c.metrics.RecordUploadFailure(time.Since(startTime).Seconds())
	return nil, fmt.Errorf("upload failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the voice service
func (c *Client) doRequest(ctx context.Context, requestID string, upload *Upload) (*Reply, error) {
	body, contentType, err := createMultipartRequest(upload)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "handsfree-vad/1.0")
	httpReq.Header.Set("X-Request-ID", requestID)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var wire wireReply
	jsonErr := json.Unmarshal(respBody, &wire)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		if jsonErr == nil {
			apiErr.Code = wire.Error
		}
		return nil, apiErr
	}

	if jsonErr != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", jsonErr)
	}

	return parseReply(requestID, resp.StatusCode, &wire)
}

func parseReply(requestID string, status int, wire *wireReply) (*Reply, error) {
	switch wire.Error {
	case "":
	case "empty_transcript":
		return nil, ErrEmptyTranscript
	default:
		return nil, &APIError{StatusCode: status, Code: wire.Error}
	}

	reply := &Reply{
		RequestID:   requestID,
		UserText:    wire.UserText,
		ReplyText:   wire.ReplyText,
		SessionDone: wire.SessionDone,
	}

	if wire.AudioBase64 != nil && *wire.AudioBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(*wire.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode reply audio: %w", err)
		}
		reply.Audio = decoded
		if wire.AudioMIME != nil {
			reply.AudioMIME = *wire.AudioMIME
		}
	}

	return reply, nil
}

// createMultipartRequest creates the multipart/form-data body
func createMultipartRequest(upload *Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, AudioField, AudioFilename))
	partHeader.Set("Content-Type", AudioMIME)

	fileWriter, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(upload.WAV); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"utterance_id": upload.UtteranceID,
		"duration":     strconv.FormatFloat(upload.Duration.Seconds(), 'f', 3, 64),
		"sample_rate":  strconv.Itoa(upload.SampleRate),
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is worth another attempt
func isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementEmptyTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emptyTranscript++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
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
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		EmptyTranscript: c.emptyTranscript,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for active uploads to complete
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}

	return nil
}
