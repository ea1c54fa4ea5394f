// Package api serves the lead-capture funnel over HTTP: audit start and
// polling, the package catalog, enrollment, social-share and payment
// callbacks, and the back-office admin endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/crm"
	"github.com/awa-labs/webauditor/internal/enroll"
	"github.com/awa-labs/webauditor/internal/evidence"
	"github.com/awa-labs/webauditor/internal/funnel"
	"github.com/awa-labs/webauditor/internal/model"
	"github.com/awa-labs/webauditor/internal/store"
)

// Server holds the handler dependencies for the funnel API.
type Server struct {
	store    store.Store
	audits   funnel.AuditClient
	catalog  []model.Package
	recorder *enroll.Recorder
	checkout funnel.CheckoutClient
	syncer   *crm.Syncer
	archiver *evidence.Archiver
	origins  []string
	log      *zap.Logger
}

// Option configures the server.
type Option func(*Server)

// WithCheckout enables the hosted-checkout endpoint.
func WithCheckout(c funnel.CheckoutClient) Option {
	return func(s *Server) { s.checkout = c }
}

// WithSyncer enables best-effort CRM sync after enrollment.
func WithSyncer(sy *crm.Syncer) Option {
	return func(s *Server) { s.syncer = sy }
}

// WithArchiver enables consent-evidence archival after enrollment.
func WithArchiver(a *evidence.Archiver) Option {
	return func(s *Server) { s.archiver = a }
}

// WithAllowedOrigins sets the CORS origins for the frontend.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer creates the funnel API server.
func NewServer(st store.Store, audits funnel.AuditClient, catalog []model.Package, recorder *enroll.Recorder, opts ...Option) *Server {
	s := &Server{
		store:    st,
		audits:   audits,
		catalog:  catalog,
		recorder: recorder,
		origins:  []string{"http://localhost:3000"},
		log:      zap.L().With(zap.String("component", "api")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all funnel routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/audit/start", s.handleAuditStart)
		r.Get("/audit/{id}", s.handleAuditGet)
		r.Get("/packages", s.handlePackages)

		r.Route("/leads", func(r chi.Router) {
			r.Post("/enroll", s.handleEnroll)
			r.Get("/verify", s.handleVerifyEmail)
			r.Post("/{id}/social-share", s.handleSocialShare)
			r.Patch("/{id}/payment", s.handlePayment)
			r.Get("/admin/list", s.handleAdminList)
			r.Get("/admin/stats", s.handleAdminStats)
		})

		r.Post("/payments/create-checkout", s.handleCreateCheckout)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
