package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultRateLimit   = 10 // requests per second
)

// Remote channels.
const (
	channelCreateLab       = "CREATE_LAB"
	channelStartExecution  = "START_LAB_EXECUTION"
	channelExecutionStatus = "GET_LAB_EXECUTION_STATUS"
	channelBacktestResult  = "GET_BACKTEST_RESULT"
	channelHistoryStatus   = "GET_HISTORY_STATUS"
)

// readChannels may be retried after a transport error or 5xx. Writes are
// retried only on 429, where the platform rejected the request unprocessed.
var readChannels = map[string]bool{
	channelExecutionStatus: true,
	channelBacktestResult:  true,
	channelHistoryStatus:   true,
}

// HTTPClient implements Gateway over the platform's JSON-over-GET API.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a gateway client for the given base endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    strings.TrimRight(endpoint, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the platform response wrapper.
type envelope struct {
	Success bool            `json:"Success"`
	Error   string          `json:"Error"`
	Data    json.RawMessage `json:"Data"`
}

// errRemote marks an application-level failure reported inside the envelope.
var errRemote = errors.New("remote error")

// call performs a GET on channel with retries and exponential backoff.
// 429 is retried on every channel. Transport errors and other non-200 statuses
// are retried on read channels only. Envelope errors are never retried.
func (c *HTTPClient) call(ctx context.Context, channel string, params url.Values, result any) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordGatewayCall(channel, time.Since(start).Seconds(), err)
		if err != nil {
			err = domain.NewGatewayError(channel, err)
		}
	}()

	target := c.endpoint + "/" + channel
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	delay := c.retryDelay
	retryAll := readChannels[channel]
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			observability.RecordGatewayRetry(channel)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			if !retryAll {
				return lastErr
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			if !retryAll {
				return lastErr
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			if !retryAll {
				return lastErr
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			if !retryAll {
				return lastErr
			}
			continue
		}

		if !env.Success {
			return fmt.Errorf("%w: %s", errRemote, env.Error)
		}

		if result != nil && len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, result); err != nil {
				return fmt.Errorf("unmarshal data: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// CreateLab creates a lab and returns its id.
func (c *HTTPClient) CreateLab(ctx context.Context, spec LabSpec) (string, error) {
	params := url.Values{
		"name":     {spec.Name},
		"scriptId": {spec.ScriptID},
		"market":   {spec.MarketTag},
		"account":  {spec.AccountID},
	}

	var data struct {
		LabID string `json:"LabId"`
	}
	if err := c.call(ctx, channelCreateLab, params, &data); err != nil {
		return "", err
	}
	if data.LabID == "" {
		return "", domain.NewGatewayError(channelCreateLab, errors.New("empty lab id in response"))
	}
	return data.LabID, nil
}

// StartExecution starts the lab over [start, end).
func (c *HTTPClient) StartExecution(ctx context.Context, labID string, start, end time.Time) error {
	params := url.Values{
		"labId":     {labID},
		"startUnix": {strconv.FormatInt(start.Unix(), 10)},
		"endUnix":   {strconv.FormatInt(end.Unix(), 10)},
	}
	return c.call(ctx, channelStartExecution, params, nil)
}

// GetExecutionStatus reports the execution state of a lab.
func (c *HTTPClient) GetExecutionStatus(ctx context.Context, labID, backtestID string) (*ExecutionStatus, error) {
	params := url.Values{"labId": {labID}}
	if backtestID != "" {
		params.Set("backtestId", backtestID)
	}

	var data struct {
		Status     string  `json:"Status"`
		Progress   float64 `json:"Progress"`
		Message    string  `json:"Message"`
		BacktestID string  `json:"BacktestId"`
	}
	if err := c.call(ctx, channelExecutionStatus, params, &data); err != nil {
		return nil, err
	}

	state, err := parseState(data.Status)
	if err != nil {
		return nil, domain.NewGatewayError(channelExecutionStatus, err)
	}
	return &ExecutionStatus{
		State:      state,
		Progress:   clampProgress(data.Progress),
		Message:    data.Message,
		BacktestID: data.BacktestID,
	}, nil
}

// GetBacktestResult returns the raw result payload of a completed backtest.
func (c *HTTPClient) GetBacktestResult(ctx context.Context, labID, backtestID string) ([]byte, error) {
	params := url.Values{
		"labId":      {labID},
		"backtestId": {backtestID},
	}

	var data json.RawMessage
	if err := c.call(ctx, channelBacktestResult, params, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.NewGatewayError(channelBacktestResult, errors.New("empty result payload"))
	}
	return data, nil
}

// ProbeHistoryAvailable reports whether market data exists for the given UTC day.
func (c *HTTPClient) ProbeHistoryAvailable(ctx context.Context, marketTag string, day time.Time) (bool, error) {
	params := url.Values{
		"market":  {marketTag},
		"dayUnix": {strconv.FormatInt(day.UTC().Unix(), 10)},
	}

	var data struct {
		Available bool `json:"Available"`
	}
	if err := c.call(ctx, channelHistoryStatus, params, &data); err != nil {
		return false, err
	}
	return data.Available, nil
}

func parseState(s string) (ExecutionState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "QUEUED", "PENDING", "CREATED":
		return StateQueued, nil
	case "RUNNING", "EXECUTING":
		return StateRunning, nil
	case "COMPLETED", "DONE", "FINISHED":
		return StateCompleted, nil
	case "FAILED", "ERROR":
		return StateFailed, nil
	case "CANCELLED", "CANCELED":
		return StateCancelled, nil
	}
	return "", fmt.Errorf("unknown execution status %q", s)
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Compile-time interface check.
var _ Gateway = (*HTTPClient)(nil)
