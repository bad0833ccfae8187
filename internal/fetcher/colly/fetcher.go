// Package collyfetcher implements the resilient crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/metrics"
	"github.com/JakeFAU/hn-archive-crawler/internal/policy/retry"
)

const defaultTimeout = 15 * time.Second

// DefaultHeaders are sent with every request unless overridden.
var DefaultHeaders = http.Header{
	"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language":           {"en-US,en;q=0.9"},
	"Dnt":                       {"1"},
	"Upgrade-Insecure-Requests": {"1"},
}

// Config controls collector behavior.
type Config struct {
	// Endpoint labels logs and metrics, e.g. "listing" or "detail".
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
	// Transport is shared between fetchers so connections are pooled.
	Transport http.RoundTripper
	Policy    *retry.Policy
	Sleeper   retry.Sleeper
}

// Fetcher implements crawler.Fetcher using the Colly collector. It is safe for
// concurrent use; one instance serves every worker of an endpoint class.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	policy        *retry.Policy
	sleeper       retry.Sleeper
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Headers == nil {
		cfg.Headers = DefaultHeaders
	}
	if cfg.Transport == nil {
		cfg.Transport = NewTransport(0)
	}
	policy := cfg.Policy
	if policy == nil {
		policy = retry.New(retry.Config{})
	}
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = retry.TimerSleeper{}
	}

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		policy:        policy,
		sleeper:       sleeper,
		logger:        logger.With(zap.String("endpoint", cfg.Endpoint)),
	}
}

// Fetch GETs rawURL with params, retrying per the policy. Any failure is a
// *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (crawler.FetchResponse, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Reason: crawler.ReasonTransport,
			URL:    rawURL,
			Err:    fmt.Errorf("%w: %w", crawler.ErrTransport, err),
		}
	}

	maxAttempts := f.policy.MaxAttempts()
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := f.fetchOnce(ctx, target)
		metrics.ObserveFetch(f.cfg.Endpoint, resp.StatusCode, resp.Duration)

		var (
			wait  time.Duration
			cause string
		)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return crawler.FetchResponse{}, f.abort(target, attempt, ctx.Err())
			}
			lastStatus, lastErr = 0, fmt.Errorf("%w: %w", crawler.ErrTransport, err)
			wait, cause = f.policy.TransportBackoff(attempt), "transport"
			f.logger.Warn("fetch transport failure",
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		default:
			decision := f.policy.Classify(resp.StatusCode)
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				resp.Attempts = attempt
				return resp, nil
			}
			if decision == retry.Stop {
				return crawler.FetchResponse{}, &crawler.FetchError{
					Reason:     crawler.ReasonNon2xx,
					URL:        target,
					StatusCode: resp.StatusCode,
					Attempts:   attempt,
				}
			}
			lastStatus, lastErr = resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
			if crawler.IsRateLimitStatus(resp.StatusCode) {
				lastErr = fmt.Errorf("%w: status %d", crawler.ErrRateLimited, resp.StatusCode)
			}
			wait, cause = f.policy.Backoff(attempt, decision), "status"
			if decision == retry.Cooldown {
				cause = "cooldown"
			}
			f.logger.Warn("fetch retryable status",
				zap.String("url", target),
				zap.Int("status_code", resp.StatusCode),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
		}

		if attempt == maxAttempts {
			break
		}
		metrics.ObserveRetry(f.cfg.Endpoint, cause)
		if err := f.sleeper.Sleep(ctx, wait); err != nil {
			return crawler.FetchResponse{}, f.abort(target, attempt, err)
		}
	}

	return crawler.FetchResponse{}, &crawler.FetchError{
		Reason:     crawler.ReasonExhaustedRetries,
		URL:        target,
		StatusCode: lastStatus,
		Attempts:   maxAttempts,
		Err:        lastErr,
	}
}

// Probe issues one request against origin and fails only when no HTTP response
// arrives at all (DNS failure, refused connection, timeout).
func (f *Fetcher) Probe(ctx context.Context, origin string) error {
	resp, err := f.fetchOnce(ctx, origin)
	if err != nil {
		return &crawler.FetchError{
			Reason:   crawler.ReasonTransport,
			URL:      origin,
			Attempts: 1,
			Err:      fmt.Errorf("%w: %w", crawler.ErrTransport, err),
		}
	}
	f.logger.Debug("origin probe succeeded", zap.String("url", origin), zap.Int("status_code", resp.StatusCode))
	return nil
}

func (f *Fetcher) abort(target string, attempt int, err error) error {
	return &crawler.FetchError{
		Reason:   crawler.ReasonTransport,
		URL:      target,
		Attempts: attempt,
		Err:      fmt.Errorf("%w: %w", crawler.ErrTransport, err),
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	err := f.runCollector(ctx, collector, target, &fetchErr)
	result.Duration = time.Since(start)
	if err != nil {
		return crawler.FetchResponse{Duration: result.Duration}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		if r.Headers.Get(key) != "" {
			continue
		}
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// NewTransport returns the pooled transport shared by all fetchers of a crawl.
func NewTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   max(maxConnsPerHost, 2),
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("url must be absolute")
	}
	if len(params) > 0 {
		q := u.Query()
		for k, values := range params {
			for _, v := range values {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
