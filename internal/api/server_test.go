package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awa-labs/webauditor/internal/enroll"
	"github.com/awa-labs/webauditor/internal/funnel"
	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/store"
)

type fakeAudits struct {
	st store.Store
}

func (f *fakeAudits) Start(ctx context.Context, url string, categories []model.Category) (*model.Audit, error) {
	return f.st.CreateAudit(ctx, url, categories)
}

func (f *fakeAudits) Get(ctx context.Context, auditID string) (*model.Audit, error) {
	return f.st.GetAudit(ctx, auditID)
}

type fakeCheckout struct {
	err error
}

func (f *fakeCheckout) CreateSession(_ context.Context, packageID, leadID string) (*funnel.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &funnel.CheckoutSession{
		URL:       "https://pay.example.com/s/cs_" + packageID,
		SessionID: "cs_" + leadID,
	}, nil
}

type testEnv struct {
	store store.Store
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	recorder := enroll.NewRecorder("terms body", "2026-01", st,
		enroll.WithIPLookup(ContextIPLookup()))

	s := NewServer(st, &fakeAudits{st: st}, model.DefaultCatalog(), recorder, opts...)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{store: st, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func enrollBody(auditID string) map[string]any {
	return map[string]any{
		"email":            "jo@example.com",
		"name":             "Jo Developer",
		"language":         "en",
		"audit_id":         auditID,
		"package_id":       "pro",
		"selected_audits":  []string{"seo", "security"},
		"terms_accepted":   true,
		"privacy_accepted": true,
		"environment": map[string]any{
			"user_agent":   "test-agent",
			"screen_width": 1920,
			"platform":     "Linux",
		},
	}
}

func TestAuditStartAndGet(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/audit/start", map[string]any{"url": "example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "pending", body["status"])

	auditID := body["audit_id"].(string)
	require.NotEmpty(t, auditID)

	resp, body = env.do(t, http.MethodGet, "/api/audit/"+auditID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	assert.Nil(t, body["teaser"])

	// Complete the audit and fetch again: teaser appears, paid issue
	// details do not.
	audit, err := env.store.GetAudit(context.Background(), auditID)
	require.NoError(t, err)
	audit.Scores = map[model.Category]int{model.CategorySEO: 70}
	audit.OverallScore = 70
	audit.Issues = []model.AuditIssue{{
		Category:    model.CategorySEO,
		Severity:    model.SeverityHigh,
		Title:       "Missing meta description",
		Description: "paid detail",
	}}
	require.NoError(t, env.store.CompleteAudit(context.Background(), audit))

	resp, body = env.do(t, http.MethodGet, "/api/audit/"+auditID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])

	teaser, ok := body["teaser"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 70, teaser["overall_score"], 0.001)
	top := teaser["top_issues"].([]any)
	require.Len(t, top, 1)
	first := top[0].(map[string]any)
	assert.Equal(t, "Missing meta description", first["title"])
	assert.NotContains(t, first, "description")
}

func TestAuditStart_InvalidURL(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/audit/start", map[string]any{"url": "not a url"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestAuditStart_UnknownCategory(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/audit/start", map[string]any{
		"url":        "example.com",
		"categories": []string{"astrology"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuditGet_NotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/audit/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPackages(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/packages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	packages := body["packages"].([]any)
	require.Len(t, packages, 3)
	first := packages[0].(map[string]any)
	assert.Equal(t, "starter", first["id"])
}

func startAudit(t *testing.T, env *testEnv) string {
	t.Helper()
	_, body := env.do(t, http.MethodPost, "/api/audit/start", map[string]any{"url": "example.com"})
	return body["audit_id"].(string)
}

func TestEnroll_Success(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)

	resp, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["lead_id"])
	assert.True(t, enroll.ValidReference(body["reference"].(string)))

	lead, err := env.store.GetLead(context.Background(), body["lead_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "jo@example.com", lead.Email)
	assert.Equal(t, "https://example.com", lead.URL)
	assert.NotEmpty(t, lead.Fingerprint)
	assert.NotEmpty(t, lead.TermsHash)
}

func TestEnroll_RecordsBareClientIP(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)

	resp, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// httptest connections arrive from 127.0.0.1 with an ephemeral port;
	// the stored consent IP must be the host alone.
	lead, err := env.store.GetLead(context.Background(), body["lead_id"].(string))
	require.NoError(t, err)
	require.NotNil(t, lead.IPAddress)
	assert.Equal(t, "127.0.0.1", *lead.IPAddress)
}

func TestEnroll_DuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)

	resp, _ := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "already exists")
}

func TestEnroll_ConsentGate(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)

	form := enrollBody(auditID)
	form["privacy_accepted"] = false

	resp, body := env.do(t, http.MethodPost, "/api/leads/enroll", form)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "accepted")
}

func TestSocialShare(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)
	_, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	leadID := body["lead_id"].(string)

	resp, _ := env.do(t, http.MethodPost, "/api/leads/"+leadID+"/social-share", map[string]any{"platform": "linkedin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lead, err := env.store.GetLead(context.Background(), leadID)
	require.NoError(t, err)
	assert.True(t, lead.ShareCompleted)
	assert.Equal(t, "linkedin", lead.SharePlatform)
}

func TestSocialShare_MissingPlatform(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/leads/x/social-share", map[string]any{"platform": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSocialShare_UnknownLead(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/leads/missing/social-share", map[string]any{"platform": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPayment_PaidConverts(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)
	_, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	leadID := body["lead_id"].(string)

	resp, _ := env.do(t, http.MethodPatch, "/api/leads/"+leadID+"/payment", map[string]any{
		"status":         "paid",
		"session_id":     "cs_123",
		"invoice_number": "INV-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lead, err := env.store.GetLead(context.Background(), leadID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPaid, lead.PaymentStatus)
	assert.Equal(t, model.LeadStatusConverted, lead.Status)
}

func TestPayment_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPatch, "/api/leads/x/payment", map[string]any{"status": "sideways"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateCheckout(t *testing.T) {
	env := newTestEnv(t, WithCheckout(&fakeCheckout{}))

	resp, body := env.do(t, http.MethodPost, "/api/payments/create-checkout", map[string]any{
		"package_id": "pro",
		"lead_id":    "lead-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://pay.example.com/s/cs_pro", body["checkout_url"])
	assert.Equal(t, "cs_lead-1", body["session_id"])
}

func TestCreateCheckout_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/payments/create-checkout", map[string]any{
		"package_id": "pro",
		"lead_id":    "lead-1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCreateCheckout_ProcessorDown(t *testing.T) {
	env := newTestEnv(t, WithCheckout(&fakeCheckout{err: fmt.Errorf("boom")}))

	resp, _ := env.do(t, http.MethodPost, "/api/payments/create-checkout", map[string]any{
		"package_id": "pro",
		"lead_id":    "lead-1",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestVerifyEmail_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)
	_, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	leadID := body["lead_id"].(string)

	lead, err := env.store.GetLead(context.Background(), leadID)
	require.NoError(t, err)
	require.NotEmpty(t, lead.VerificationToken)

	resp, verified := env.do(t, http.MethodGet, "/api/leads/verify?token="+lead.VerificationToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, leadID, verified["lead_id"])

	resp, _ = env.do(t, http.MethodGet, "/api/leads/verify?token="+lead.VerificationToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminListAndStats(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)

	form := enrollBody(auditID)
	_, body := env.do(t, http.MethodPost, "/api/leads/enroll", form)
	leadID := body["lead_id"].(string)

	second := enrollBody(auditID)
	second["email"] = "ana@example.com"
	second["name"] = "Ana Tester"
	_, _ = env.do(t, http.MethodPost, "/api/leads/enroll", second)

	_, _ = env.do(t, http.MethodPatch, "/api/leads/"+leadID+"/payment", map[string]any{
		"status": "paid", "session_id": "cs_1", "invoice_number": "INV-1",
	})

	resp, list := env.do(t, http.MethodGet, "/api/leads/admin/list?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 2, list["total"], 0.001)
	assert.Len(t, list["leads"].([]any), 2)

	resp, list = env.do(t, http.MethodGet, "/api/leads/admin/list?status=converted", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 1, list["total"], 0.001)

	resp, stats := env.do(t, http.MethodGet, "/api/leads/admin/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 2, stats["total"], 0.001)
	assert.InDelta(t, 50.0, stats["conversion_rate"], 0.001)
}

func TestAdminList_InvalidLimit(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/leads/admin/list?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, WithAllowedOrigins([]string{"https://app.awa-labs.com"}))

	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/packages", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.awa-labs.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://app.awa-labs.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

// Enrollment timestamps come from the recorder clock; sanity-check they are
// recent so exports sort correctly.
func TestEnroll_TimestampsRecent(t *testing.T) {
	env := newTestEnv(t)
	auditID := startAudit(t, env)

	_, body := env.do(t, http.MethodPost, "/api/leads/enroll", enrollBody(auditID))
	lead, err := env.store.GetLead(context.Background(), body["lead_id"].(string))
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().UTC(), lead.CreatedAt, time.Minute)
	assert.WithinDuration(t, time.Now().UTC(), lead.TermsAcceptedAt, time.Minute)
}
