// Package notion maintains the lead-tracking database in Notion. Each
// converted lead gets one page keyed by its enrollment reference; re-syncs
// update the existing page instead of duplicating it.
package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// LeadPage is the property set written to the lead database.
type LeadPage struct {
	Name      string
	Email     string
	Reference string
	Package   string
	Status    string
}

// Client is the lead-database surface used by the CRM syncer.
type Client interface {
	// FindLeadPage looks up the page for an enrollment reference.
	// Returns the page ID, or "" when no page exists yet.
	FindLeadPage(ctx context.Context, dbID, reference string) (string, error)
	CreateLeadPage(ctx context.Context, dbID string, page LeadPage) (string, error)
	UpdateLeadStatus(ctx context.Context, pageID, status string) error
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit overrides the default Notion rate limit (3 req/s).
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// notionClient implements Client by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
}

// NewClient creates a lead-database client with the given integration token.
// By default, API calls are throttled to 3 req/s (Notion's rate limit).
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(3, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *notionClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *notionClient) FindLeadPage(ctx context.Context, dbID, reference string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "notion: rate limit")
	}
	resp, err := c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Reference",
			RichText: &notionapi.TextFilterCondition{Equals: reference},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("notion: find lead %s", reference))
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

func (c *notionClient) CreateLeadPage(ctx context.Context, dbID string, page LeadPage) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "notion: rate limit")
	}
	created, err := c.inner.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: leadProperties(page),
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("notion: create lead %s", page.Reference))
	}
	return string(created.ID), nil
}

func (c *notionClient) UpdateLeadStatus(ctx context.Context, pageID, status string) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "notion: rate limit")
	}
	_, err := c.inner.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			"Status": notionapi.SelectProperty{
				Select: notionapi.Option{Name: status},
			},
		},
	})
	if err != nil {
		return eris.Wrap(err, fmt.Sprintf("notion: update lead page %s", pageID))
	}
	return nil
}

func leadProperties(page LeadPage) notionapi.Properties {
	return notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{Text: &notionapi.Text{Content: page.Name}},
			},
		},
		"Email": notionapi.EmailProperty{
			Email: page.Email,
		},
		"Reference": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{Text: &notionapi.Text{Content: page.Reference}},
			},
		},
		"Package": notionapi.SelectProperty{
			Select: notionapi.Option{Name: page.Package},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: page.Status},
		},
	}
}
