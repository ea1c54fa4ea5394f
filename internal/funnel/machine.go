package funnel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/model"
)

// AuditFailedMessage is shown when an audit reaches the failed status.
const AuditFailedMessage = "Audit failed. Please try again."

// AuditClient starts audits and reports their status.
type AuditClient interface {
	Start(ctx context.Context, url string, categories []model.Category) (*model.Audit, error)
	Get(ctx context.Context, auditID string) (*model.Audit, error)
}

// EnrollmentReceipt identifies a created lead.
type EnrollmentReceipt struct {
	LeadID    string
	Reference string
}

// Enroller records a lead from a validated enrollment form.
type Enroller interface {
	Enroll(ctx context.Context, form model.EnrollmentForm) (*EnrollmentReceipt, error)
}

// CheckoutSession is the hosted checkout handed back by the billing
// processor; the caller redirects the browser to URL.
type CheckoutSession struct {
	URL       string `json:"checkout_url"`
	SessionID string `json:"session_id"`
}

// CheckoutClient obtains hosted checkout sessions.
type CheckoutClient interface {
	CreateSession(ctx context.Context, packageID, leadID string) (*CheckoutSession, error)
}

// ShareVerifier acknowledges a social share for the free tier.
type ShareVerifier interface {
	VerifyShare(ctx context.Context, leadID, platform string) error
}

// Config wires the machine's external collaborators.
type Config struct {
	Audits       AuditClient
	Enroll       Enroller
	Checkout     CheckoutClient
	Shares       ShareVerifier
	Handoffs     *HandoffStore
	PollInterval time.Duration
}

// Machine owns the funnel state for one visitor session and exposes a
// narrow transition API. All transitions are serialized on its mutex; the
// audit-status poller is the only background work it owns.
type Machine struct {
	cfg   Config
	token string

	mu       sync.Mutex
	state    State
	errMsg   string
	audit    *model.Audit
	auditID  string
	pkg      *model.Package
	selected []model.Category
	leadID   string
	ref      string
	poller   *Poller
}

// NewMachine creates a funnel machine in the url-input state.
func NewMachine(cfg Config) *Machine {
	if cfg.Handoffs == nil {
		cfg.Handoffs = NewHandoffStore()
	}
	return &Machine{
		cfg:   cfg,
		token: uuid.New().String(),
		state: StateURLInput,
	}
}

// State returns the current funnel state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the user-visible error message, if any.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// Audit returns the most recently observed audit record.
func (m *Machine) Audit() *model.Audit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audit
}

// LeadID returns the lead created at enrollment, or empty if none exists.
func (m *Machine) LeadID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leadID
}

// Reference returns the enrollment reference code, if a lead was created.
func (m *Machine) Reference() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ref
}

// SessionToken identifies this machine's pending-payment handoff slot.
func (m *Machine) SessionToken() string {
	return m.token
}

// SubmitURL starts an audit for the given input and moves to auditing.
// Invalid input and audit-start failures keep the machine on url-input
// with a visible error.
func (m *Machine) SubmitURL(ctx context.Context, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateURLInput {
		return eris.Errorf("funnel: cannot submit url from state %s", m.state)
	}

	normalized, err := NormalizeURL(raw)
	if err != nil {
		m.errMsg = "Please enter a valid website address."
		return err
	}

	audit, err := m.cfg.Audits.Start(ctx, normalized, nil)
	if err != nil {
		m.errMsg = "Could not start the audit. Please try again."
		return eris.Wrap(err, "funnel: start audit")
	}

	m.audit = audit
	m.auditID = audit.ID
	m.errMsg = ""
	m.state = StateAuditing

	// The poller's lifetime is tied to the auditing state, not to the
	// request that kicked it off.
	m.poller = NewPoller(m.cfg.Audits, audit.ID, m.cfg.PollInterval, m.handleAuditUpdate)
	m.poller.Start(context.WithoutCancel(ctx))
	return nil
}

// handleAuditUpdate receives applied poll responses. Updates arriving after
// the auditing state was left are ignored so a slow response can never
// regress a later state.
func (m *Machine) handleAuditUpdate(audit *model.Audit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAuditing {
		return
	}
	m.audit = audit

	switch audit.Status {
	case model.AuditStatusCompleted:
		m.errMsg = ""
		m.state = StateTeaserResults
	case model.AuditStatusFailed:
		m.errMsg = AuditFailedMessage
		m.state = StateURLInput
	}
}

// ChoosePackage moves from the teaser results to package selection.
func (m *Machine) ChoosePackage() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateTeaserResults {
		return eris.Errorf("funnel: cannot choose package from state %s", m.state)
	}
	if m.audit == nil {
		return eris.New("funnel: no audit result present")
	}
	m.errMsg = ""
	m.state = StatePackageSelection
	return nil
}

// ConfirmPackage validates the package and category selection and moves to
// enrollment. Full packages auto-select every category.
func (m *Machine) ConfirmPackage(pkg model.Package, selected []model.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePackageSelection {
		return eris.Errorf("funnel: cannot confirm package from state %s", m.state)
	}
	if err := pkg.Validate(); err != nil {
		return err
	}
	effective, err := pkg.ValidateSelection(selected)
	if err != nil {
		return err
	}

	m.pkg = &pkg
	m.selected = effective
	m.errMsg = ""
	m.state = StateEnrollment
	return nil
}

// SubmitEnrollment validates the form, records the lead, and branches to
// the unlock path for the selected package. Validation failures cause no
// transition. Lead creation failure is non-fatal: blocking a paying or
// sharing user behind a best-effort CRM write is the wrong failure mode,
// so the error is logged and the funnel proceeds.
func (m *Machine) SubmitEnrollment(ctx context.Context, form model.EnrollmentForm) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEnrollment {
		return eris.Errorf("funnel: cannot enroll from state %s", m.state)
	}
	if m.pkg == nil {
		return eris.New("funnel: no package selected")
	}

	form.AuditID = m.auditID
	form.PackageID = m.pkg.ID
	form.SelectedAudits = m.selected
	if err := form.Validate(); err != nil {
		return err
	}

	// Idempotent re-entry: a lead already created for this
	// (audit, package) pair is reused, never duplicated.
	if m.leadID == "" {
		receipt, err := m.cfg.Enroll.Enroll(ctx, form)
		if err != nil {
			zap.L().Error("funnel: lead creation failed, proceeding to unlock",
				zap.String("audit_id", m.auditID),
				zap.String("package_id", m.pkg.ID),
				zap.Error(err),
			)
		} else {
			m.leadID = receipt.LeadID
			m.ref = receipt.Reference
		}
	}

	m.errMsg = ""
	m.state = UnlockPathFor(*m.pkg).state()
	return nil
}

// BeginCheckout obtains a hosted checkout session and records the pending
// payment handoff before the redirect. Session creation failure returns
// the funnel to enrollment with a visible error.
func (m *Machine) BeginCheckout(ctx context.Context) (*CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePayment {
		return nil, eris.Errorf("funnel: cannot start checkout from state %s", m.state)
	}

	session, err := m.cfg.Checkout.CreateSession(ctx, m.pkg.ID, m.leadID)
	if err != nil {
		m.errMsg = "Payment could not be started. Please try again."
		m.state = StateEnrollment
		return nil, eris.Wrap(err, "funnel: create checkout session")
	}

	m.cfg.Handoffs.Put(m.token, Handoff{
		AuditID:   m.auditID,
		LeadID:    m.leadID,
		PackageID: m.pkg.ID,
		SessionID: session.SessionID,
	})
	return session, nil
}

// CompletePaymentReturn consumes the pending-payment handoff after the
// checkout redirect and completes the funnel. The handoff is single-use.
func (m *Machine) CompletePaymentReturn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePayment {
		return eris.Errorf("funnel: unexpected payment return in state %s", m.state)
	}

	h, ok := m.cfg.Handoffs.Take(m.token)
	if !ok {
		m.errMsg = "No pending payment was found."
		return eris.New("funnel: no pending payment handoff")
	}
	if m.leadID == "" {
		m.leadID = h.LeadID
	}

	m.errMsg = ""
	m.state = StateComplete
	return nil
}

// CompleteShare records an acknowledged social share and completes the
// funnel for the free tier.
func (m *Machine) CompleteShare(ctx context.Context, platform string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSocialShare {
		return eris.Errorf("funnel: cannot complete share from state %s", m.state)
	}
	if platform == "" {
		return eris.New("funnel: share platform is required")
	}

	if err := m.cfg.Shares.VerifyShare(ctx, m.leadID, platform); err != nil {
		m.errMsg = "We could not confirm your share. Please try again."
		return eris.Wrap(err, "funnel: verify share")
	}

	m.errMsg = ""
	m.state = StateComplete
	return nil
}

// Back returns to the previous state per the fixed predecessor map.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := predecessors[m.state]
	if !ok {
		return eris.Errorf("funnel: no previous state from %s", m.state)
	}
	m.errMsg = ""
	m.state = prev
	return nil
}

// Close tears the machine down, cancelling any in-flight poll.
func (m *Machine) Close() {
	m.mu.Lock()
	poller := m.poller
	m.poller = nil
	m.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
}
