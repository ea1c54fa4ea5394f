// Package billing provides a client for the hosted-checkout payment
// processor. The processor issues a redirect URL and a session id; payment
// confirmation arrives later through the payment webhook.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/awa-labs/webauditor/internal/funnel"
)

const defaultTimeout = 15 * time.Second

// Client creates hosted-checkout sessions. It satisfies
// funnel.CheckoutClient.
type Client struct {
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
	http       *http.Client
}

// Option configures the billing client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithReturnURLs sets the redirect targets the processor sends the
// customer back to after checkout.
func WithReturnURLs(success, cancel string) Option {
	return func(c *Client) {
		c.successURL = success
		c.cancelURL = cancel
	}
}

// NewClient creates a checkout client for the given processor endpoint.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sessionRequest struct {
	PackageID  string `json:"package_id"`
	LeadID     string `json:"lead_id"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// CreateSession asks the processor for a hosted-checkout session.
func (c *Client) CreateSession(ctx context.Context, packageID, leadID string) (*funnel.CheckoutSession, error) {
	if packageID == "" || leadID == "" {
		return nil, eris.New("billing: package id and lead id are required")
	}

	payload, err := json.Marshal(sessionRequest{
		PackageID:  packageID,
		LeadID:     leadID,
		SuccessURL: c.successURL,
		CancelURL:  c.cancelURL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "billing: marshal session request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "billing: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "billing: create session")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "billing: read response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, eris.Errorf("billing: create session returned %d: %s", resp.StatusCode, string(body))
	}

	var session funnel.CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, eris.Wrap(err, "billing: decode session")
	}
	if session.URL == "" || session.SessionID == "" {
		return nil, eris.New("billing: processor returned an incomplete session")
	}
	return &session, nil
}
