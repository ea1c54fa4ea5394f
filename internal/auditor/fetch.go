// Package auditor crawls a target site and runs per-category checks
// producing scores and issues.
package auditor

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes   = 2 << 20 // 2 MiB is plenty for HTML inspection
	defaultTimeout = 20 * time.Second
	userAgent      = "webauditor/1.0 (+https://awa-labs.com)"
)

// Page is a fetched target page with everything the checks need.
type Page struct {
	URL           string
	FinalURL      string
	StatusCode    int
	Header        http.Header
	Cookies       []*http.Cookie
	Body          string
	HTTPS         bool
	ResponseTime  time.Duration
	ContentLength int
}

// Fetcher retrieves pages politely: one limiter shared across all requests
// for a single audit run.
type Fetcher struct {
	http    *http.Client
	limiter *rate.Limiter
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.http = hc
	}
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(r rate.Limit, burst int) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = rate.NewLimiter(r, burst)
	}
}

// NewFetcher creates a Fetcher with a 2 req/s default limit.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the page at rawURL, following redirects.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "auditor: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "auditor: create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "auditor: fetch %s", rawURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "auditor: read body of %s", rawURL)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:           rawURL,
		FinalURL:      finalURL,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Cookies:       resp.Cookies(),
		Body:          string(body),
		HTTPS:         strings.HasPrefix(finalURL, "https://"),
		ResponseTime:  time.Since(start),
		ContentLength: len(body),
	}, nil
}

// Exists reports whether a sibling resource (robots.txt, sitemap.xml)
// responds with a 2xx status.
func (f *Fetcher) Exists(ctx context.Context, rawURL string) bool {
	if err := f.limiter.Wait(ctx); err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SiteRoot returns the scheme://host root for a page URL, for locating
// robots.txt and sitemap.xml.
func SiteRoot(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "auditor: parse url %s", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
