// Package enroll records legal enrollment: tamper-evident consent metadata,
// a browser fingerprint, and the audit-log entry that makes the enrollment
// complete.
package enroll

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/awa-labs/webauditor/internal/model"
)

// IPLookup resolves the client's IP address on a best-effort basis.
// Failure yields a nil address, never a blocking error.
type IPLookup interface {
	ClientIP(ctx context.Context) (string, error)
}

// IPLookupFunc adapts a function to the IPLookup interface.
type IPLookupFunc func(ctx context.Context) (string, error)

// ClientIP implements IPLookup.
func (f IPLookupFunc) ClientIP(ctx context.Context) (string, error) {
	return f(ctx)
}

// AuditLogSink appends compliance events. The enrollment record is not
// considered complete until its log entry exists.
type AuditLogSink interface {
	AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error
}

// Recorder builds the immutable compliance record for an enrollment.
type Recorder struct {
	termsContent string
	termsVersion string
	refPrefix    string
	ip           IPLookup
	log          AuditLogSink
	now          func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithIPLookup sets the best-effort client IP resolver.
func WithIPLookup(l IPLookup) RecorderOption {
	return func(r *Recorder) { r.ip = l }
}

// WithReferencePrefix overrides the reference-code prefix.
func WithReferencePrefix(prefix string) RecorderOption {
	return func(r *Recorder) { r.refPrefix = prefix }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a consent recorder for the given terms document.
func NewRecorder(termsContent, termsVersion string, log AuditLogSink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		termsContent: termsContent,
		termsVersion: termsVersion,
		refPrefix:    "AWA",
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record is the compliance artifact produced for one enrollment.
type Record struct {
	Acceptance  model.TermsAcceptance
	LogEntry    model.AuditLogEntry
	Reference   string
	Fingerprint string
}

// Capture builds the full enrollment record from a validated form and the
// client environment. The hash computations and the IP lookup are
// independent and run concurrently; the audit-log entry is constructed only
// after all of them resolve, and is appended before Capture returns.
func (r *Recorder) Capture(ctx context.Context, form model.EnrollmentForm, env ClientEnvironment) (*Record, error) {
	// Required fields are validated before any async work begins.
	if err := form.Validate(); err != nil {
		return nil, err
	}

	var (
		termsHash   string
		sigHash     string
		fingerprint string
		ipAddr      *string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		termsHash = TermsHash(r.termsContent, r.termsVersion)
		return nil
	})
	g.Go(func() error {
		sigHash = SignatureHash([]byte(form.SignatureData))
		return nil
	})
	g.Go(func() error {
		fingerprint = env.Fingerprint()
		return nil
	})
	g.Go(func() error {
		if r.ip == nil {
			return nil
		}
		addr, err := r.ip.ClientIP(gctx)
		if err != nil {
			// Best-effort enrichment: degrade to a null IP.
			zap.L().Debug("enroll: client ip lookup failed", zap.Error(err))
			return nil
		}
		if addr != "" {
			ipAddr = &addr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "enroll: enrichment")
	}

	now := r.now().UTC()
	reference, err := NewReference(r.refPrefix, now)
	if err != nil {
		return nil, err
	}

	acceptance := model.TermsAcceptance{
		ID:            uuid.New().String(),
		TermsVersion:  r.termsVersion,
		AcceptedAt:    now,
		IPAddress:     ipAddr,
		UserAgent:     env.UserAgent,
		TermsHash:     termsHash,
		SignatureHash: sigHash,
		Fingerprint:   fingerprint,
	}

	entry := model.AuditLogEntry{
		ID:        uuid.New().String(),
		Action:    model.ActionEnroll,
		Timestamp: now,
		Email:     form.Email,
		UserAgent: env.UserAgent,
		Metadata: map[string]any{
			"audit_id":      form.AuditID,
			"package_id":    form.PackageID,
			"reference":     reference,
			"has_signature": sigHash != "",
		},
	}
	if ipAddr != nil {
		entry.IPAddress = *ipAddr
	}

	if r.log != nil {
		if err := r.log.AppendAuditLog(ctx, entry); err != nil {
			return nil, eris.Wrap(err, "enroll: append audit log")
		}
	}

	return &Record{
		Acceptance:  acceptance,
		LogEntry:    entry,
		Reference:   reference,
		Fingerprint: fingerprint,
	}, nil
}
