package funnel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awa-labs/webauditor/internal/model"
)

type fakeAuditClient struct {
	mu       sync.Mutex
	startErr error
	status   model.AuditStatus
	started  []string
}

func (f *fakeAuditClient) Start(ctx context.Context, url string, cats []model.Category) (*model.Audit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, url)
	return &model.Audit{ID: "audit-1", URL: url, Status: model.AuditStatusPending}, nil
}

func (f *fakeAuditClient) Get(ctx context.Context, auditID string) (*model.Audit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.Audit{ID: auditID, Status: f.status, OverallScore: 72}, nil
}

func (f *fakeAuditClient) setStatus(s model.AuditStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

type fakeEnroller struct {
	mu    sync.Mutex
	err   error
	calls int
	forms []model.EnrollmentForm
}

func (f *fakeEnroller) Enroll(ctx context.Context, form model.EnrollmentForm) (*EnrollmentReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.forms = append(f.forms, form)
	if f.err != nil {
		return nil, f.err
	}
	return &EnrollmentReceipt{LeadID: "lead-1", Reference: "AWA-20260831-Z4K9"}, nil
}

func (f *fakeEnroller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCheckout struct {
	err error
}

func (f *fakeCheckout) CreateSession(ctx context.Context, packageID, leadID string) (*CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &CheckoutSession{URL: "https://pay.example.com/cs_123", SessionID: "cs_123"}, nil
}

type fakeShares struct {
	err       error
	platforms []string
}

func (f *fakeShares) VerifyShare(ctx context.Context, leadID, platform string) error {
	if f.err != nil {
		return f.err
	}
	f.platforms = append(f.platforms, platform)
	return nil
}

type fixture struct {
	audits   *fakeAuditClient
	enroller *fakeEnroller
	checkout *fakeCheckout
	shares   *fakeShares
	machine  *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		audits:   &fakeAuditClient{status: model.AuditStatusRunning},
		enroller: &fakeEnroller{},
		checkout: &fakeCheckout{},
		shares:   &fakeShares{},
	}
	f.machine = NewMachine(Config{
		Audits:       f.audits,
		Enroll:       f.enroller,
		Checkout:     f.checkout,
		Shares:       f.shares,
		Handoffs:     NewHandoffStore(),
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(f.machine.Close)
	return f
}

// driveToTeaser runs the machine through url-input and auditing.
func (f *fixture) driveToTeaser(t *testing.T) {
	t.Helper()
	require.NoError(t, f.machine.SubmitURL(context.Background(), "example.com"))
	require.Equal(t, StateAuditing, f.machine.State())
	f.audits.setStatus(model.AuditStatusCompleted)
	require.Eventually(t, func() bool {
		return f.machine.State() == StateTeaserResults
	}, time.Second, 5*time.Millisecond)
}

func (f *fixture) driveToEnrollment(t *testing.T, pkg model.Package, selected []model.Category) {
	t.Helper()
	f.driveToTeaser(t)
	require.NoError(t, f.machine.ChoosePackage())
	require.NoError(t, f.machine.ConfirmPackage(pkg, selected))
	require.Equal(t, StateEnrollment, f.machine.State())
}

func starterPkg() model.Package {
	return model.Package{ID: "starter", Price: 0, AuditsIncluded: 2, TotalAudits: 6, RequiresShare: true, PDFType: model.PDFTypeNone}
}

func proPkg() model.Package {
	return model.Package{ID: "pro", Price: 1.99, AuditsIncluded: 4, TotalAudits: 6, PDFType: model.PDFTypeBasic}
}

func enrollmentForm() model.EnrollmentForm {
	return model.EnrollmentForm{
		Email:           "ana@example.com",
		Name:            "Ana Pop",
		Language:        "en",
		TermsAccepted:   true,
		PrivacyAccepted: true,
	}
}

func TestMachine_SubmitURLNormalizes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.machine.SubmitURL(context.Background(), "example.com"))
	assert.Equal(t, StateAuditing, f.machine.State())
	assert.Equal(t, []string{"https://example.com"}, f.audits.started)
}

func TestMachine_InvalidURLStaysPut(t *testing.T) {
	f := newFixture(t)
	err := f.machine.SubmitURL(context.Background(), "   ")
	assert.Error(t, err)
	assert.Equal(t, StateURLInput, f.machine.State())
	assert.NotEmpty(t, f.machine.LastError())
}

func TestMachine_AuditStartFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.audits.startErr = eris.New("backend down")
	err := f.machine.SubmitURL(context.Background(), "example.com")
	assert.Error(t, err)
	assert.Equal(t, StateURLInput, f.machine.State())
	assert.NotEmpty(t, f.machine.LastError())
}

func TestMachine_AuditFailedReturnsToURLInput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.machine.SubmitURL(context.Background(), "example.com"))
	f.audits.setStatus(model.AuditStatusFailed)

	require.Eventually(t, func() bool {
		return f.machine.State() == StateURLInput
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, AuditFailedMessage, f.machine.LastError())
}

func TestMachine_FreeTierUnlocksViaShare(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, starterPkg(), []model.Category{model.CategorySEO, model.CategorySecurity})

	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	assert.Equal(t, StateSocialShare, f.machine.State())

	require.NoError(t, f.machine.CompleteShare(context.Background(), "linkedin"))
	assert.Equal(t, StateComplete, f.machine.State())
	assert.Equal(t, []string{"linkedin"}, f.shares.platforms)
}

func TestMachine_PricedPackageUnlocksViaPayment(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})

	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	require.Equal(t, StatePayment, f.machine.State())

	session, err := f.machine.BeginCheckout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.SessionID)

	require.NoError(t, f.machine.CompletePaymentReturn())
	assert.Equal(t, StateComplete, f.machine.State())
}

func TestMachine_ConsentGateBlocksEnrollment(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})

	form := enrollmentForm()
	form.TermsAccepted = false
	err := f.machine.SubmitEnrollment(context.Background(), form)
	assert.Error(t, err)
	assert.Equal(t, StateEnrollment, f.machine.State(), "no state transition")
	assert.Zero(t, f.enroller.callCount(), "no lead created")
}

func TestMachine_LeadCreationFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.enroller.err = eris.New("crm unreachable")
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})

	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	assert.Equal(t, StatePayment, f.machine.State(), "funnel proceeds past a best-effort CRM write")
	assert.Empty(t, f.machine.LeadID())
	assert.Empty(t, f.machine.LastError(), "error is logged, not surfaced")
}

func TestMachine_EnrollmentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})

	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	require.Equal(t, 1, f.enroller.callCount())
	require.Equal(t, "lead-1", f.machine.LeadID())

	// Back to enrollment and submit again: the stored lead is reused.
	require.NoError(t, f.machine.Back())
	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	assert.Equal(t, 1, f.enroller.callCount(), "no duplicate lead")
	assert.Equal(t, "lead-1", f.machine.LeadID())
}

func TestMachine_CheckoutFailureReturnsToEnrollment(t *testing.T) {
	f := newFixture(t)
	f.checkout.err = eris.New("billing processor down")
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})
	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))

	_, err := f.machine.BeginCheckout(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateEnrollment, f.machine.State())
	assert.NotEmpty(t, f.machine.LastError())
}

func TestMachine_PaymentReturnConsumesHandoffOnce(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})
	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	_, err := f.machine.BeginCheckout(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.machine.CompletePaymentReturn())
	assert.Equal(t, StateComplete, f.machine.State())

	// The handoff was cleared on the first read.
	_, ok := f.machine.cfg.Handoffs.Take(f.machine.SessionToken())
	assert.False(t, ok)
}

func TestMachine_PaymentReturnWithoutHandoff(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})
	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))

	err := f.machine.CompletePaymentReturn()
	assert.Error(t, err)
	assert.Equal(t, StatePayment, f.machine.State())
}

func TestMachine_CategoryRulesEnforced(t *testing.T) {
	f := newFixture(t)
	f.driveToTeaser(t)
	require.NoError(t, f.machine.ChoosePackage())

	// Too many categories for starter.
	err := f.machine.ConfirmPackage(starterPkg(), []model.Category{
		model.CategorySEO, model.CategorySecurity, model.CategoryGDPR,
	})
	assert.Error(t, err)
	assert.Equal(t, StatePackageSelection, f.machine.State())

	// Full package auto-selects everything.
	full := model.Package{ID: "full", Price: 4.99, AuditsIncluded: 6, TotalAudits: 6, PDFType: model.PDFTypeProfessional}
	require.NoError(t, f.machine.ConfirmPackage(full, nil))
	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	require.Equal(t, 1, f.enroller.callCount())
	assert.Equal(t, model.AllCategories(), f.enroller.forms[0].SelectedAudits)
}

func TestMachine_ShareVerificationFailureStays(t *testing.T) {
	f := newFixture(t)
	f.shares.err = eris.New("not acknowledged")
	f.driveToEnrollment(t, starterPkg(), []model.Category{model.CategorySEO, model.CategoryGDPR})
	require.NoError(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))

	err := f.machine.CompleteShare(context.Background(), "facebook")
	assert.Error(t, err)
	assert.Equal(t, StateSocialShare, f.machine.State())
}

func TestMachine_BackWalksPredecessors(t *testing.T) {
	f := newFixture(t)
	f.driveToEnrollment(t, proPkg(), []model.Category{model.CategorySEO})

	require.NoError(t, f.machine.Back())
	assert.Equal(t, StatePackageSelection, f.machine.State())
	require.NoError(t, f.machine.Back())
	assert.Equal(t, StateTeaserResults, f.machine.State())

	assert.Error(t, f.machine.Back(), "teaser-results has no predecessor")
}

func TestMachine_IllegalTransitionsRejected(t *testing.T) {
	f := newFixture(t)

	assert.Error(t, f.machine.ChoosePackage())
	assert.Error(t, f.machine.ConfirmPackage(proPkg(), nil))
	assert.Error(t, f.machine.SubmitEnrollment(context.Background(), enrollmentForm()))
	assert.Error(t, f.machine.CompleteShare(context.Background(), "x"))
	_, err := f.machine.BeginCheckout(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateURLInput, f.machine.State())
}
