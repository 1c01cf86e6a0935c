// Package collyfetcher performs the portal's HTTP GETs using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/metrics"
	"github.com/JakeFAU/cep-candidate-scraper/internal/ratelimit"
	"github.com/JakeFAU/cep-candidate-scraper/internal/retry"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// ProxyURL routes every request through an HTTP proxy when set.
	ProxyURL string
	Retry    retry.Policy
	Limiter  *ratelimit.Limiter
	Logger   *zap.Logger
}

// Request is a single GET.
type Request struct {
	URL     string
	Query   url.Values
	Headers http.Header
	Cookies map[string]string
}

// Response is the body and metadata of a successful GET.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Fetcher issues GETs through a Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	transport, err := newHTTPTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.NewExponential()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, logger: logger, baseCollector: c}, nil
}

// Fetch GETs the request under the retry policy. Statuses 429 and 5xx and
// network timeouts are retried; any other failure is returned at once.
func (f *Fetcher) Fetch(ctx context.Context, request Request) (Response, error) {
	target, err := buildURL(request)
	if err != nil {
		return Response{}, retry.Permanent(err)
	}
	site := metrics.SanitizeSite(target)

	var resp Response
	err = retry.Do(ctx, f.cfg.Retry, func(ctx context.Context, attempt int) error {
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx, target); err != nil {
				return retry.Permanent(err)
			}
		}
		r, err := f.fetchOnce(ctx, target, request)
		if err != nil {
			metrics.ObserveFetch(site, "error", 0)
			f.logger.Debug("fetch attempt failed",
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return classify(err)
		}
		metrics.ObserveFetch(site, "ok", len(r.Body))
		resp = r
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func classify(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return retry.Permanent(err)
	}
	return err
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string, request Request) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)

	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return Response{}, err
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return Response{}, &StatusError{URL: target, StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
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

func copyHeaders(request Request, r *colly.Request) {
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if cookie := cookieHeader(request.Cookies); cookie != "" {
		r.Headers.Set("Cookie", cookie)
	}
}

// cookieHeader renders cookies in name order so requests are reproducible.
func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+cookies[name])
	}
	return strings.Join(parts, "; ")
}

func buildURL(request Request) (string, error) {
	u, err := url.Parse(request.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", request.URL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", request.URL)
	}
	if len(request.Query) > 0 {
		q := u.Query()
		for key, values := range request.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func newHTTPTransport(proxyURL string) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxy = http.ProxyURL(u)
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}
