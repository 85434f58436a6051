package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"github.com/skypro1111/genai-relay/internal/metrics"
)

// ContentGenerator is the part of *genai.Models the client needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config contains Gemini client configuration
type Config struct {
	APIKey        string
	BaseURL       string // empty means the public endpoint
	ChatModel     string
	SpeechModel   string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Client provides access to the chat and speech models
type Client struct {
	config    Config
	models    ContentGenerator
	semaphore *semaphore.Weighted
	logger    *slog.Logger
	metrics   *metrics.Metrics

	httpClient  *http.Client
	backoffBase time.Duration
	backoffMax  time.Duration

	active atomic.Int64

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int64         `json:"active_requests"`
}

// Option customizes a Client.
type Option func(*Client)

// WithMetrics records upstream calls in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithContentGenerator replaces the genai backend, mainly for tests.
func WithContentGenerator(g ContentGenerator) Option {
	return func(c *Client) { c.models = g }
}

// WithHTTPClient sets the HTTP client handed to genai.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBackoff sets the first retry delay and its cap.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// New creates a Gemini client
func New(ctx context.Context, config Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if config.ChatModel == "" || config.SpeechModel == "" {
		return nil, fmt.Errorf("chat and speech models must be set")
	}

	if config.Timeout <= 0 {
		config.Timeout = 90 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 8
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config:      config,
		semaphore:   semaphore.NewWeighted(int64(config.MaxConcurrent)),
		logger:      logger.With(slog.String("component", "gemini")),
		backoffBase: time.Second,
		backoffMax:  30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.models == nil {
		if config.APIKey == "" {
			return nil, fmt.Errorf("API key cannot be empty")
		}

		if c.httpClient == nil {
			c.httpClient = &http.Client{
				Timeout: config.Timeout,
				Transport: &http.Transport{
					Proxy:               http.ProxyFromEnvironment,
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 10,
					IdleConnTimeout:     90 * time.Second,
				},
			}
		}

		gc, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      config.APIKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  c.httpClient,
			HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		c.models = gc.Models
	}

	return c, nil
}

// GenerateText sends a conversation to the chat model and returns the
// concatenated text of the first candidate.
func (c *Client) GenerateText(ctx context.Context, req *TextRequest) (string, error) {
	contents, err := buildContents(req.Turns)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "text/plain",
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}

	resp, err := c.generate(ctx, OperationText, c.config.ChatModel, contents, cfg)
	if err != nil {
		return "", err
	}

	cand, err := firstCandidate(resp)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
	}

	return sb.String(), nil
}

// Synthesize asks the speech model to read text with the given prebuilt voice.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (*Speech, error) {
	contents := []*genai.Content{{
		Role:  RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(text)},
	}}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}

	resp, err := c.generate(ctx, OperationSpeech, c.config.SpeechModel, contents, cfg)
	if err != nil {
		return nil, err
	}

	cand, err := firstCandidate(resp)
	if err != nil {
		return nil, err
	}

	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				return &Speech{PCM: p.InlineData.Data, MIMEType: p.InlineData.MIMEType}, nil
			}
		}
	}

	return nil, ErrNoAudio
}

func buildContents(turns []Turn) ([]*genai.Content, error) {
	if len(turns) == 0 {
		return nil, fmt.Errorf("request has no turns")
	}

	contents := make([]*genai.Content, 0, len(turns))
	for i, t := range turns {
		role := t.Role
		if role == "" {
			role = RoleUser
		}
		if role != RoleUser && role != RoleModel {
			return nil, fmt.Errorf("turn %d: unsupported role %q", i, t.Role)
		}

		parts := make([]*genai.Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.Data != nil {
				parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
			} else {
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}

		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	return contents, nil
}

func firstCandidate(resp *genai.GenerateContentResponse) (*genai.Candidate, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, ErrEmptyResponse
	}
	return resp.Candidates[0], nil
}

// generate performs one logical request with concurrency limiting and retries
func (c *Client) generate(ctx context.Context, op Operation, model string, contents []*genai.Content,
	cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {

	if err := c.semaphore.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.semaphore.Release(1)

	c.active.Add(1)
	defer c.active.Add(-1)

	startTime := time.Now()
	c.incrementTotalRequests()
	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(string(op))
	}

	var (
		lastErr  error
		attempts int
	)

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.metrics != nil {
				c.metrics.RecordUpstreamRetry(string(op))
			}

			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				c.recordFailure(op, startTime)
				return nil, ctx.Err()
			}
		}

		attempts++
		resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			c.recordSuccess(op, startTime)
			c.logger.Debug("Generative API request completed",
				slog.String("operation", string(op)),
				slog.String("model", model),
				slog.Int("attempts", attempts),
				slog.Duration("elapsed", time.Since(startTime)),
			)
			return resp, nil
		}

		lastErr = classifyError(err)

		c.logger.Warn("Generative API request failed",
			slog.String("operation", string(op)),
			slog.String("model", model),
			slog.Int("attempt", attempts),
			slog.String("error", lastErr.Error()),
		)

		if ctx.Err() != nil || !isRetryableError(lastErr) {
			break
		}
	}

	c.recordFailure(op, startTime)
	return nil, fmt.Errorf("%s request failed after %d attempts: %w", op, attempts, lastErr)
}

// backoff returns the delay before the given retry attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > c.backoffMax || d <= 0 {
		d = c.backoffMax
	}
	return d
}

// classifyError converts genai API errors into *APIError.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message, Cause: err}
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message, Cause: err}
	}

	return err
}

// isRetryableError reports whether a failed attempt is worth repeating
func isRetryableError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func (c *Client) recordSuccess(op Operation, startTime time.Time) {
	elapsed := time.Since(startTime)
	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)
	if c.metrics != nil {
		c.metrics.RecordUpstreamSuccess(string(op), elapsed.Seconds())
	}
}

func (c *Client) recordFailure(op Operation, startTime time.Time) {
	c.incrementFailedRequests()
	if c.metrics != nil {
		c.metrics.RecordUpstreamFailure(string(op), time.Since(startTime).Seconds())
	}
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

// Stats returns current client statistics
func (c *Client) Stats() ClientStats {
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
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  c.active.Load(),
	}
}

// Close waits for in-flight requests to finish or ctx to expire.
func (c *Client) Close(ctx context.Context) error {
	if err := c.semaphore.Acquire(ctx, int64(c.config.MaxConcurrent)); err != nil {
		return err
	}
	c.semaphore.Release(int64(c.config.MaxConcurrent))
	return nil
}
