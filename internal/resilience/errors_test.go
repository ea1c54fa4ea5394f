package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient_TaggedError(t *testing.T) {
	err := NewTransientError(errors.New("salesforce overloaded"), 503)
	assert.True(t, IsTransient(err))
}

func TestIsTransient_WrappedTaggedError(t *testing.T) {
	inner := NewTransientError(errors.New("notion rate limited"), 429)
	wrapped := fmt.Errorf("crm: upsert lead page: %w", inner)
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransient_Nil(t *testing.T) {
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_ValidationError(t *testing.T) {
	// A rejected lead payload is the caller's problem, not the target's.
	assert.False(t, IsTransient(errors.New("invalid field: Email")))
}

func TestIsTransient_Syscalls(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	assert.True(t, IsTransient(err))
}

func TestIsTransient_StringPatterns(t *testing.T) {
	// Errors the CRM SDKs surface as bare strings.
	for _, msg := range []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 405, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	require.ErrorIs(t, te, inner)
	assert.Equal(t, 500, te.StatusCode)
}

func TestTransientError_MessagePassthrough(t *testing.T) {
	te := NewTransientError(errors.New("upstream gateway timeout"), 504)
	assert.Equal(t, "upstream gateway timeout", te.Error())
}
