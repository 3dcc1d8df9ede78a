package birdeye

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"solscope/internal/domain"
	"solscope/internal/infra"
	"solscope/internal/infra/cache"
	"solscope/internal/infra/retry"
)

const (
	BaseURL = "https://public-api.birdeye.so"

	maxBodyBytes = 8 << 20
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Policy     *retry.Policy
	Metrics    *infra.Metrics
	HTTPClient *http.Client
	Now        func() time.Time // cache clock
}

// Client is the Birdeye public API client.
// Successful responses are cached per endpoint category; identical in-flight
// requests share one upstream call.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	policy     *retry.Policy
	cache      *cache.ResponseCache[json.RawMessage]
	group      singleflight.Group
	budget     time.Duration // upper bound for one shared fetch, retries included
	metrics    *infra.Metrics
	logger     *slog.Logger
}

// NewClient creates a new Birdeye API client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = retry.NewPolicy(retry.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: opts.HTTPClient,
		policy:     opts.Policy,
		cache:      cache.NewWithClock[json.RawMessage](opts.Now),
		budget:     fetchBudget(opts.Timeout, opts.Policy),
		metrics:    opts.Metrics,
		logger:     slog.Default().With("module", "birdeye_client"),
	}
}

// fetchBudget is every attempt timing out plus every backoff wait
func fetchBudget(timeout time.Duration, p *retry.Policy) time.Duration {
	attempts := p.Config().MaxRetries + 1
	budget := time.Duration(attempts) * timeout
	for i := 0; i < attempts-1; i++ {
		budget += p.Delay(i)
	}
	return budget
}

// NewClientFromConfig builds a client from the application config
func NewClientFromConfig(cfg *infra.Config, metrics *infra.Metrics) *Client {
	r := cfg.Birdeye.Retry
	policy := retry.NewPolicy(retry.Config{
		MaxRetries:        r.MaxRetries,
		BaseDelay:         time.Duration(r.BaseDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(r.MaxDelayMS) * time.Millisecond,
		BackoffMultiplier: r.BackoffMultiplier,
	})
	return NewClient(Options{
		BaseURL: cfg.Birdeye.BaseURL,
		APIKey:  cfg.Birdeye.APIKey,
		Timeout: cfg.BirdeyeTimeout(),
		Policy:  policy,
		Metrics: metrics,
	})
}

// ClearCache drops every cached response
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// CacheLen returns the number of cached responses
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

// Params are query parameters. nil values and empty strings are omitted.
type Params map[string]any

// Values converts params to url.Values
func (p Params) Values() url.Values {
	v := make(url.Values, len(p))
	for key, raw := range p {
		switch val := raw.(type) {
		case nil:
			continue
		case string:
			if val == "" {
				continue
			}
			v.Set(key, val)
		case int:
			v.Set(key, strconv.Itoa(val))
		case int64:
			v.Set(key, strconv.FormatInt(val, 10))
		case float64:
			v.Set(key, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			v.Set(key, strconv.FormatBool(val))
		case fmt.Stringer:
			v.Set(key, val.String())
		default:
			v.Set(key, fmt.Sprint(val))
		}
	}
	return v
}

// get fetches endpoint and decodes the unwrapped data into T
func get[T any](ctx context.Context, c *Client, endpoint string, params Params) (T, error) {
	var out T
	data, err := c.fetch(ctx, endpoint, params)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return out, nil
}

// fetch returns the raw data payload, from cache when fresh.
func (c *Client) fetch(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	values := params.Values()
	key := cache.Key(endpoint, values)

	if data, ok := c.cache.Get(key); ok {
		c.metrics.RecordCacheHit()
		return data, nil
	}
	c.metrics.RecordCacheMiss()

	// The shared call must outlive any single caller; each caller only
	// stops waiting when its own ctx is done.
	ch := c.group.DoChan(key, func() (any, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget)
		defer cancel()

		data, err := retry.Do(sharedCtx, c.policy, func(ctx context.Context) (json.RawMessage, error) {
			return c.doRequest(ctx, endpoint, values)
		})
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, data, TTLFor(endpoint))
		return data, nil
	})

	select {
	case <-ctx.Done():
		c.logger.Debug("Caller gave up on request", slog.String("endpoint", endpoint), slog.Any("error", ctx.Err()))
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("Birdeye request failed", slog.String("endpoint", endpoint), slog.Any("error", res.Err))
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("Coalesced request", slog.String("endpoint", endpoint))
		}
		return res.Val.(json.RawMessage), nil
	}
}

// doRequest performs a single GET and unwraps the envelope
func (c *Client) doRequest(ctx context.Context, endpoint string, values url.Values) (json.RawMessage, error) {
	reqURL := c.baseURL + endpoint
	if len(values) > 0 {
		reqURL += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-chain", "solana")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(time.Since(start), true)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewNetworkError("GET "+endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	failed := err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300
	c.metrics.RecordUpstream(time.Since(start), failed)
	if err != nil {
		return nil, domain.NewNetworkError("GET "+endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.RemoteAPIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s envelope: %w", endpoint, err)
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "success=false"
		}
		return nil, &domain.RemoteAPIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: msg}
	}
	if len(env.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return env.Data, nil
}

// errorMessage extracts {"message": "..."} from an error body when present
func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Message
	}
	return ""
}

// IsClientError reports whether err is an upstream 4xx other than 429
func IsClientError(err error) bool {
	var apiErr *domain.RemoteAPIError
	return errors.As(err, &apiErr) && apiErr.IsClientError()
}
