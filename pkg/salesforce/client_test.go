package salesforce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_RateLimitWaitHonorsContext(t *testing.T) {
	// A zero-rps limiter never admits; a cancelled context must abort the
	// wait before any SF call is attempted (sf is nil here).
	c := NewClient(nil, WithRateLimit(0.0001))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Query(ctx, "SELECT Id FROM Lead", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")

	_, err = c.InsertOne(ctx, "Lead", map[string]any{"LastName": "Pop"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")

	err = c.UpdateOne(ctx, "Lead", "00Q000", map[string]any{"Status": "Working"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
