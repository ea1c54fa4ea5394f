package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awa-labs/webauditor/internal/model"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare domain", "example.com", "https://example.com", true},
		{"with path", "example.com/pricing", "https://example.com/pricing", true},
		{"already https", "https://example.com", "https://example.com", true},
		{"http preserved", "http://example.com", "http://example.com", true},
		{"surrounding space", "  example.com  ", "https://example.com", true},
		{"empty", "", "", false},
		{"whitespace only", "   ", "", false},
		{"no dot in host", "localhost", "", false},
		{"ftp scheme", "ftp://example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURL_Idempotent(t *testing.T) {
	inputs := []string{"example.com", "https://example.com/a?b=1", "http://sub.example.com/x"}
	for _, in := range inputs {
		once, err := NormalizeURL(in)
		require.NoError(t, err, in)
		twice, err := NormalizeURL(once)
		require.NoError(t, err, once)
		assert.Equal(t, once, twice, "normalizing twice must be stable for %q", in)
	}
}

func TestUnlockPathFor(t *testing.T) {
	free := model.Package{ID: "starter", Price: 0, RequiresShare: true}
	priced := model.Package{ID: "pro", Price: 1.99}

	assert.Equal(t, UnlockSocialShare, UnlockPathFor(free))
	assert.Equal(t, UnlockPayment, UnlockPathFor(priced))

	assert.Equal(t, StateSocialShare, UnlockPathFor(free).state())
	assert.Equal(t, StatePayment, UnlockPathFor(priced).state())
}

func TestPredecessorMap(t *testing.T) {
	want := map[State]State{
		StatePackageSelection: StateTeaserResults,
		StateEnrollment:       StatePackageSelection,
		StateSocialShare:      StateEnrollment,
		StatePayment:          StateEnrollment,
	}
	assert.Equal(t, want, predecessors)

	// No Back from the remaining states.
	for _, s := range []State{StateURLInput, StateAuditing, StateTeaserResults, StateComplete} {
		_, ok := predecessors[s]
		assert.False(t, ok, string(s))
	}
}

func TestHandoffStore_SingleUse(t *testing.T) {
	s := NewHandoffStore()
	s.Put("tok", Handoff{AuditID: "a1", PackageID: "pro", SessionID: "sess"})

	h, ok := s.Take("tok")
	require.True(t, ok)
	assert.Equal(t, "sess", h.SessionID)

	// Second read without an intervening write observes absence.
	_, ok = s.Take("tok")
	assert.False(t, ok)

	// A fresh write makes the slot readable again.
	s.Put("tok", Handoff{SessionID: "sess2"})
	h, ok = s.Take("tok")
	require.True(t, ok)
	assert.Equal(t, "sess2", h.SessionID)
}
