package funnel

import "sync"

// Handoff is the record written before redirecting to the external checkout
// and consumed exactly once on return. It is the only cross-step shared
// resource in the funnel.
type Handoff struct {
	AuditID   string `json:"auditId"`
	LeadID    string `json:"leadId,omitempty"`
	PackageID string `json:"packageId"`
	SessionID string `json:"sessionId"`
}

// HandoffStore keeps pending-payment handoffs keyed by a short-lived session
// token. Take removes the record immediately so a second read without an
// intervening write observes absence, never stale data.
type HandoffStore struct {
	mu      sync.Mutex
	pending map[string]Handoff
}

// NewHandoffStore creates an empty handoff store.
func NewHandoffStore() *HandoffStore {
	return &HandoffStore{pending: make(map[string]Handoff)}
}

// Put stores the handoff for the given session token, replacing any
// previous record for that token.
func (s *HandoffStore) Put(token string, h Handoff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[token] = h
}

// Take returns the handoff for the token and clears it in the same step.
func (s *HandoffStore) Take(token string) (Handoff, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
	}
	return h, ok
}
