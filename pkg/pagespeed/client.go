// Package pagespeed provides a client for the Google PageSpeed Insights API.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Strategy selects the emulated device for a PageSpeed run.
type Strategy string

const (
	StrategyMobile  Strategy = "mobile"
	StrategyDesktop Strategy = "desktop"
)

// Client defines the PageSpeed Insights operations.
type Client interface {
	// Analyze runs PageSpeed Insights against a URL and returns the
	// Lighthouse result for the requested strategy.
	Analyze(ctx context.Context, targetURL string, opts ...AnalyzeOption) (*Result, error)
}

// Result is the subset of the Lighthouse response the auditor consumes.
type Result struct {
	LighthouseResult LighthouseResult `json:"lighthouseResult"`
}

// LighthouseResult holds category scores and audit details.
type LighthouseResult struct {
	RequestedURL string                      `json:"requestedUrl"`
	Categories   map[string]CategoryResult   `json:"categories"`
	Audits       map[string]AuditResult      `json:"audits"`
	Environment  map[string]json.RawMessage  `json:"environment,omitempty"`
}

// CategoryResult is a Lighthouse category with its 0..1 score.
type CategoryResult struct {
	Title string   `json:"title"`
	Score *float64 `json:"score"`
}

// AuditResult is a single Lighthouse audit finding.
type AuditResult struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Score        *float64 `json:"score"`
	DisplayValue string   `json:"displayValue,omitempty"`
}

// Score100 converts a Lighthouse 0..1 category score to the 0..100 scale.
// A missing score maps to 0.
func (c CategoryResult) Score100() int {
	if c.Score == nil {
		return 0
	}
	return int(*c.Score*100 + 0.5)
}

// AnalyzeOption configures an Analyze request.
type AnalyzeOption func(*analyzeOpts)

type analyzeOpts struct {
	strategy   Strategy
	categories []string
	locale     string
}

// WithStrategy sets the emulated device. Defaults to mobile.
func WithStrategy(s Strategy) AnalyzeOption {
	return func(o *analyzeOpts) {
		o.strategy = s
	}
}

// WithCategories restricts the Lighthouse categories to run.
func WithCategories(cats ...string) AnalyzeOption {
	return func(o *analyzeOpts) {
		o.categories = cats
	}
}

// WithLocale sets the locale for audit titles and descriptions.
func WithLocale(locale string) AnalyzeOption {
	return func(o *analyzeOpts) {
		o.locale = locale
	}
}

// Option configures the PageSpeed client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new PageSpeed Insights client. The API key may be
// empty, in which case Google's anonymous quota applies.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com/pagespeedonline/v5",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "pagespeed: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("pagespeed: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Analyze(ctx context.Context, targetURL string, opts ...AnalyzeOption) (*Result, error) {
	ao := &analyzeOpts{strategy: StrategyMobile}
	for _, opt := range opts {
		opt(ao)
	}

	q := url.Values{}
	q.Set("url", targetURL)
	q.Set("strategy", string(ao.strategy))
	for _, cat := range ao.categories {
		q.Add("category", cat)
	}
	if ao.locale != "" {
		q.Set("locale", ao.locale)
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	reqURL := fmt.Sprintf("%s/runPagespeed?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: create request")
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("pagespeed: unexpected status %d: %s", statusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pagespeed: unmarshal response")
	}

	return &result, nil
}
