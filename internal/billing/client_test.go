package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession_Success(t *testing.T) {
	var got sessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"checkout_url": "https://pay.example.com/s/cs_123",
			"session_id":   "cs_123",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", WithReturnURLs("https://awa-labs.com/ok", "https://awa-labs.com/back"))
	session, err := c.CreateSession(context.Background(), "pro", "lead-1")
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/s/cs_123", session.URL)
	assert.Equal(t, "cs_123", session.SessionID)
	assert.Equal(t, "pro", got.PackageID)
	assert.Equal(t, "lead-1", got.LeadID)
	assert.Equal(t, "https://awa-labs.com/ok", got.SuccessURL)
}

func TestCreateSession_ProcessorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown package"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	_, err := c.CreateSession(context.Background(), "bogus", "lead-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestCreateSession_IncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "cs_123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.CreateSession(context.Background(), "pro", "lead-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete session")
}

func TestCreateSession_MissingIDs(t *testing.T) {
	c := NewClient("http://unused", "")
	_, err := c.CreateSession(context.Background(), "", "lead-1")
	assert.Error(t, err)

	_, err = c.CreateSession(context.Background(), "pro", "")
	assert.Error(t, err)
}
