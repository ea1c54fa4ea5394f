package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/enroll"
	"github.com/awa-labs/webauditor/internal/funnel"
	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/scorer"
	"github.com/awa-labs/webauditor/internal/store"
)

type ipCtxKey struct{}

// clientIP strips the port from the request's remote address. RemoteAddr is
// host:port; compliance records want the bare IP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ContextIP returns the client IP stashed by the enroll handler, or "".
func ContextIP(ctx context.Context) string {
	ip, _ := ctx.Value(ipCtxKey{}).(string)
	return ip
}

// ContextIPLookup resolves the client IP from the request context. Wire it
// into the enrollment recorder when serving HTTP.
func ContextIPLookup() enroll.IPLookup {
	return enroll.IPLookupFunc(func(ctx context.Context) (string, error) {
		return ContextIP(ctx), nil
	})
}

type startAuditRequest struct {
	URL        string           `json:"url"`
	Categories []model.Category `json:"categories,omitempty"`
}

func (s *Server) handleAuditStart(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized, err := funnel.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Cause(err).Error())
		return
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = model.AllCategories()
	}
	for _, c := range categories {
		if !model.ValidCategory(c) {
			writeError(w, http.StatusBadRequest, "unknown category: "+string(c))
			return
		}
	}

	audit, err := s.audits.Start(r.Context(), normalized, categories)
	if err != nil {
		s.log.Error("audit start failed", zap.String("url", normalized), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit could not be started")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"audit_id": audit.ID,
		"status":   audit.Status,
	})
}

type auditResponse struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Status      model.AuditStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt string            `json:"completed_at,omitempty"`
	Teaser      *scorer.Teaser    `json:"teaser,omitempty"`
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	audit, err := s.store.GetAudit(r.Context(), id)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return
		}
		s.log.Error("audit lookup failed", zap.String("audit_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "audit lookup failed")
		return
	}

	resp := auditResponse{
		ID:        audit.ID,
		URL:       audit.URL,
		Status:    audit.Status,
		Error:     audit.Error,
		CreatedAt: audit.CreatedAt.UTC().Format(time.RFC3339),
	}
	if audit.CompletedAt != nil {
		resp.CompletedAt = audit.CompletedAt.UTC().Format(time.RFC3339)
	}
	// Full issue details are part of the paid report; only the teaser
	// leaves this endpoint.
	if audit.Status == model.AuditStatusCompleted {
		resp.Teaser = scorer.BuildTeaser(audit)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePackages(w http.ResponseWriter, _ *http.Request) {
	active := make([]model.Package, 0, len(s.catalog))
	for _, p := range s.catalog {
		if p.Active {
			active = append(active, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": active})
}

type enrollRequest struct {
	model.EnrollmentForm
	Environment enroll.ClientEnvironment `json:"environment"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	env := req.Environment
	if env.UserAgent == "" {
		env.UserAgent = r.UserAgent()
	}

	ctx := context.WithValue(r.Context(), ipCtxKey{}, clientIP(r))
	rec, err := s.recorder.Capture(ctx, req.EnrollmentForm, env)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Cause(err).Error())
		return
	}

	language := req.Language
	if normalized, err := model.NormalizeLanguage(language); err == nil {
		language = normalized
	}

	lead := model.Lead{
		ID:                 uuid.New().String(),
		Reference:          rec.Reference,
		Email:              strings.ToLower(strings.TrimSpace(req.Email)),
		Name:               strings.TrimSpace(req.Name),
		Language:           language,
		AuditID:            req.AuditID,
		PackageID:          req.PackageID,
		SelectedCategories: req.SelectedAudits,
		SignatureData:      req.SignatureData,
		NewsletterConsent:  req.NewsletterConsent,
		Fingerprint:        rec.Fingerprint,
		IPAddress:          rec.Acceptance.IPAddress,
		UserAgent:          env.UserAgent,
		TermsHash:          rec.Acceptance.TermsHash,
		TermsAcceptedAt:    rec.Acceptance.AcceptedAt,
		VerificationToken:  uuid.New().String(),
		Status:             model.LeadStatusPending,
		PaymentStatus:      model.PaymentStatusPending,
		CreatedAt:          rec.Acceptance.AcceptedAt,
	}
	if audit, err := s.store.GetAudit(r.Context(), req.AuditID); err == nil {
		lead.URL = audit.URL
	}

	if err := s.store.CreateLead(r.Context(), &lead); err != nil {
		if eris.Is(err, store.ErrDuplicateLead) {
			writeError(w, http.StatusBadRequest, "an enrollment for this email and audit already exists")
			return
		}
		s.log.Error("lead creation failed", zap.String("audit_id", req.AuditID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enrollment could not be saved")
		return
	}

	acceptance := rec.Acceptance
	acceptance.LeadID = lead.ID
	if err := s.store.SaveTermsAcceptance(r.Context(), acceptance); err != nil {
		s.log.Error("terms acceptance save failed", zap.String("lead_id", lead.ID), zap.Error(err))
	}

	s.afterEnroll(r.Context(), &lead, rec)

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"lead_id":   lead.ID,
		"reference": lead.Reference,
	})
}

// afterEnroll runs the best-effort post-enrollment work: CRM sync and
// evidence archival. Neither gates the enrollment response.
func (s *Server) afterEnroll(ctx context.Context, lead *model.Lead, rec *enroll.Record) {
	if s.syncer == nil && s.archiver == nil {
		return
	}

	bg := context.WithoutCancel(ctx)
	leadCopy := *lead
	pkg := s.packageByID(lead.PackageID)

	go func() {
		if s.syncer != nil {
			s.syncer.SyncLead(bg, &leadCopy, pkg)
		}
		if s.archiver != nil {
			if err := s.archiver.Archive(bg, rec, decodeSignaturePNG(leadCopy.SignatureData)); err != nil {
				s.log.Warn("evidence archival failed",
					zap.String("lead_id", leadCopy.ID),
					zap.Error(err),
				)
			}
		}
	}()
}

func (s *Server) packageByID(id string) *model.Package {
	for i := range s.catalog {
		if s.catalog[i].ID == id {
			return &s.catalog[i]
		}
	}
	return nil
}

// decodeSignaturePNG extracts the raw PNG bytes from a data-URL signature
// payload. Anything that does not decode yields nil and the archive simply
// omits the image.
func decodeSignaturePNG(data string) []byte {
	if data == "" {
		return nil
	}
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil
	}
	return raw
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	lead, err := s.store.VerifyLeadEmail(r.Context(), token)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invalid or already used token")
			return
		}
		s.log.Error("email verification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}

	entry := model.AuditLogEntry{
		ID:        uuid.New().String(),
		Action:    model.ActionVerify,
		Timestamp: lead.CreatedAt.UTC(),
		Email:     lead.Email,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"lead_id": lead.ID},
	}
	if err := s.store.AppendAuditLog(r.Context(), entry); err != nil {
		s.log.Warn("verify audit-log append failed", zap.String("lead_id", lead.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"lead_id":   lead.ID,
		"reference": lead.Reference,
	})
}

type socialShareRequest struct {
	Platform string `json:"platform"`
}

func (s *Server) handleSocialShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req socialShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// The platform is self-reported by the client. It is a conversion
	// signal, not a verified fact.
	if strings.TrimSpace(req.Platform) == "" {
		writeError(w, http.StatusBadRequest, "platform is required")
		return
	}

	if err := s.store.CompleteSocialShare(r.Context(), id, req.Platform); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		s.log.Error("social share failed", zap.String("lead_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "share could not be recorded")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type paymentRequest struct {
	Status        model.PaymentStatus `json:"status"`
	SessionID     string              `json:"session_id"`
	InvoiceNumber string              `json:"invoice_number"`
}

func validPaymentStatus(s model.PaymentStatus) bool {
	switch s {
	case model.PaymentStatusPending, model.PaymentStatusPaid,
		model.PaymentStatusFailed, model.PaymentStatusRefunded:
		return true
	}
	return false
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validPaymentStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "unknown payment status: "+string(req.Status))
		return
	}

	if err := s.store.UpdateLeadPayment(r.Context(), id, req.Status, req.SessionID, req.InvoiceNumber); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "lead not found")
			return
		}
		s.log.Error("payment update failed", zap.String("lead_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "payment could not be recorded")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type checkoutRequest struct {
	PackageID string `json:"package_id"`
	LeadID    string `json:"lead_id"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if s.checkout == nil {
		writeError(w, http.StatusServiceUnavailable, "checkout is not configured")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PackageID == "" || req.LeadID == "" {
		writeError(w, http.StatusBadRequest, "package_id and lead_id are required")
		return
	}

	session, err := s.checkout.CreateSession(r.Context(), req.PackageID, req.LeadID)
	if err != nil {
		s.log.Error("checkout session failed",
			zap.String("lead_id", req.LeadID),
			zap.String("package_id", req.PackageID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "checkout could not be started")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.LeadFilter{Status: model.LeadStatus(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	leads, total, err := s.store.ListLeads(r.Context(), filter)
	if err != nil {
		s.log.Error("lead list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lead list failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"leads":  leads,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.LeadStats(r.Context())
	if err != nil {
		s.log.Error("lead stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lead stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
