package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/awa-labs/webauditor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS audits (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	categories   TEXT NOT NULL DEFAULT '[]',
	scores       TEXT,
	overall      INTEGER NOT NULL DEFAULT 0,
	issues       TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS leads (
	id                  TEXT PRIMARY KEY,
	reference           TEXT NOT NULL UNIQUE,
	email               TEXT NOT NULL,
	name                TEXT NOT NULL,
	language            TEXT NOT NULL DEFAULT 'en',
	audit_id            TEXT NOT NULL,
	url                 TEXT,
	package_id          TEXT NOT NULL,
	selected            TEXT NOT NULL DEFAULT '[]',
	signature_data      TEXT,
	newsletter          INTEGER NOT NULL DEFAULT 0,
	fingerprint         TEXT,
	ip_address          TEXT,
	user_agent          TEXT,
	terms_hash          TEXT,
	terms_accepted_at   DATETIME NOT NULL,
	verification_token  TEXT,
	email_verified      INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL DEFAULT 'pending',
	payment_status      TEXT NOT NULL DEFAULT 'pending',
	checkout_session_id TEXT,
	invoice_number      TEXT,
	share_completed     INTEGER NOT NULL DEFAULT 0,
	share_platform      TEXT,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	converted_at        DATETIME,
	UNIQUE(email, audit_id)
);

CREATE TABLE IF NOT EXISTS terms_acceptances (
	id             TEXT PRIMARY KEY,
	lead_id        TEXT,
	terms_version  TEXT NOT NULL,
	accepted_at    DATETIME NOT NULL,
	ip_address     TEXT,
	user_agent     TEXT,
	terms_hash     TEXT NOT NULL,
	signature_hash TEXT,
	fingerprint    TEXT
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	ts         DATETIME NOT NULL,
	user_id    TEXT,
	lead_id    TEXT,
	email      TEXT,
	ip_address TEXT,
	user_agent TEXT,
	metadata   TEXT
);

CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAudit(ctx context.Context, url string, categories []model.Category) (*model.Audit, error) {
	if len(categories) == 0 {
		categories = model.AllCategories()
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	catsJSON, err := json.Marshal(categories)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal categories")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audits (id, url, status, categories, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, url, string(model.AuditStatusPending), string(catsJSON), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert audit")
	}

	return &model.Audit{
		ID:         id,
		URL:        url,
		Status:     model.AuditStatusPending,
		Categories: categories,
		CreatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateAuditStatus(ctx context.Context, auditID string, status model.AuditStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET status = ? WHERE id = ?`,
		string(status), auditID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update audit status %s", auditID)
	}
	return checkRowsAffected(res, "audit", auditID)
}

func (s *SQLiteStore) CompleteAudit(ctx context.Context, audit *model.Audit) error {
	scoresJSON, err := json.Marshal(audit.Scores)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scores")
	}
	issuesJSON, err := json.Marshal(audit.Issues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal issues")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET status = ?, scores = ?, overall = ?, issues = ?, completed_at = ? WHERE id = ?`,
		string(model.AuditStatusCompleted), string(scoresJSON), audit.OverallScore, string(issuesJSON), now, audit.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete audit %s", audit.ID)
	}
	return checkRowsAffected(res, "audit", audit.ID)
}

func (s *SQLiteStore) FailAudit(ctx context.Context, auditID, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE audits SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.AuditStatusFailed), reason, now, auditID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail audit %s", auditID)
	}
	return checkRowsAffected(res, "audit", auditID)
}

func (s *SQLiteStore) GetAudit(ctx context.Context, auditID string) (*model.Audit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, status, categories, scores, overall, issues, error, created_at, completed_at
		 FROM audits WHERE id = ?`,
		auditID,
	)

	var a model.Audit
	var catsJSON string
	var scoresJSON, issuesJSON, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&a.ID, &a.URL, &a.Status, &catsJSON, &scoresJSON, &a.OverallScore, &issuesJSON, &errMsg, &a.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan audit")
	}

	if err := json.Unmarshal([]byte(catsJSON), &a.Categories); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal categories")
	}
	if scoresJSON.Valid && scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &a.Scores); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scores")
		}
	}
	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &a.Issues); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal issues")
		}
	}
	if errMsg.Valid {
		a.Error = errMsg.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	// One lead per (email, audit). The funnel has no concurrent writer,
	// so a lookup-then-insert is sufficient here.
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM leads WHERE email = ? AND audit_id = ?`,
		lead.Email, lead.AuditID,
	).Scan(&existing)
	if err != nil {
		return eris.Wrap(err, "sqlite: check duplicate lead")
	}
	if existing > 0 {
		return ErrDuplicateLead
	}

	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now().UTC()
	}
	if lead.Status == "" {
		lead.Status = model.LeadStatusPending
	}
	if lead.PaymentStatus == "" {
		lead.PaymentStatus = model.PaymentStatusPending
	}

	selectedJSON, err := json.Marshal(lead.SelectedCategories)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal selected categories")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (
			id, reference, email, name, language, audit_id, url, package_id, selected,
			signature_data, newsletter, fingerprint, ip_address, user_agent, terms_hash,
			terms_accepted_at, verification_token, email_verified, status, payment_status,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Reference, lead.Email, lead.Name, lead.Language, lead.AuditID,
		lead.URL, lead.PackageID, string(selectedJSON), lead.SignatureData,
		lead.NewsletterConsent, lead.Fingerprint, lead.IPAddress, lead.UserAgent,
		lead.TermsHash, lead.TermsAcceptedAt, lead.VerificationToken,
		lead.EmailVerified, string(lead.Status), string(lead.PaymentStatus),
		lead.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

const sqliteLeadColumns = `id, reference, email, name, language, audit_id, url, package_id, selected,
	signature_data, newsletter, fingerprint, ip_address, user_agent, terms_hash,
	terms_accepted_at, verification_token, email_verified, status, payment_status,
	checkout_session_id, invoice_number, share_completed, share_platform, created_at, converted_at`

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, leadID)
	return scanLead(row)
}

func (s *SQLiteStore) GetLeadByReference(ctx context.Context, reference string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE reference = ?`, reference)
	return scanLead(row)
}

func (s *SQLiteStore) UpdateLeadPayment(ctx context.Context, leadID string, status model.PaymentStatus, sessionID, invoice string) error {
	lead, err := s.GetLead(ctx, leadID)
	if err != nil {
		return err
	}

	leadStatus := lead.Status
	var convertedAt any
	if lead.ConvertedAt != nil {
		convertedAt = *lead.ConvertedAt
	}
	if status == model.PaymentStatusPaid {
		leadStatus = model.LeadStatusConverted
		convertedAt = time.Now().UTC()
	}
	if sessionID == "" {
		sessionID = lead.CheckoutSessionID
	}
	if invoice == "" {
		invoice = lead.InvoiceNumber
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET payment_status = ?, checkout_session_id = ?, invoice_number = ?, status = ?, converted_at = ? WHERE id = ?`,
		string(status), sessionID, invoice, string(leadStatus), convertedAt, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead payment %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) CompleteSocialShare(ctx context.Context, leadID, platform string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET share_completed = 1, share_platform = ?, status = ?, converted_at = ? WHERE id = ?`,
		platform, string(model.LeadStatusConverted), now, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete social share %s", leadID)
	}
	return checkRowsAffected(res, "lead", leadID)
}

func (s *SQLiteStore) VerifyLeadEmail(ctx context.Context, token string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE verification_token = ?`, token)
	lead, err := scanLead(row)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE leads SET email_verified = 1, verification_token = NULL, status = ? WHERE id = ?`,
		string(model.LeadStatusVerified), lead.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: verify lead email %s", lead.ID)
	}

	lead.EmailVerified = true
	lead.VerificationToken = ""
	lead.Status = model.LeadStatusVerified
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, int, error) {
	countQuery := `SELECT COUNT(1) FROM leads`
	var countArgs []any
	if filter.Status != "" {
		countQuery += ` WHERE status = ?`
		countArgs = append(countArgs, string(filter.Status))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count leads")
	}

	query := `SELECT ` + sqliteLeadColumns + ` FROM leads`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, *l)
	}
	return leads, total, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) LeadStats(ctx context.Context) (*LeadStats, error) {
	stats := &LeadStats{
		ByStatus:  make(map[string]int),
		ByPackage: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lead stats by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: lead stats iterate")
	}

	pkgRows, err := s.db.QueryContext(ctx, `SELECT package_id, COUNT(1) FROM leads GROUP BY package_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lead stats by package")
	}
	defer pkgRows.Close()
	for pkgRows.Next() {
		var pkg string
		var n int
		if err := pkgRows.Scan(&pkg, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan package count")
		}
		stats.ByPackage[pkg] = n
	}
	if err := pkgRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: lead stats iterate")
	}

	if stats.Total > 0 {
		stats.ConversionRate = float64(stats.ByStatus[string(model.LeadStatusConverted)]) / float64(stats.Total) * 100
	}
	return stats, nil
}

func (s *SQLiteStore) SaveTermsAcceptance(ctx context.Context, acc model.TermsAcceptance) error {
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terms_acceptances (id, lead_id, terms_version, accepted_at, ip_address, user_agent, terms_hash, signature_hash, fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.LeadID, acc.TermsVersion, acc.AcceptedAt, acc.IPAddress,
		acc.UserAgent, acc.TermsHash, acc.SignatureHash, acc.Fingerprint,
	)
	return eris.Wrap(err, "sqlite: insert terms acceptance")
}

func (s *SQLiteStore) AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit log metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, ts, user_id, lead_id, email, ip_address, user_agent, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Action), entry.Timestamp, entry.UserID, entry.LeadID,
		entry.Email, entry.IPAddress, entry.UserAgent, string(metaJSON),
	)
	return eris.Wrap(err, "sqlite: insert audit log entry")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "store: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var selectedJSON string
	var url, sig, fp, ua, termsHash, token, sessionID, invoice, platform sql.NullString
	var ip sql.NullString
	var convertedAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.Reference, &l.Email, &l.Name, &l.Language, &l.AuditID, &url,
		&l.PackageID, &selectedJSON, &sig, &l.NewsletterConsent, &fp, &ip, &ua,
		&termsHash, &l.TermsAcceptedAt, &token, &l.EmailVerified, &l.Status,
		&l.PaymentStatus, &sessionID, &invoice, &l.ShareCompleted, &platform,
		&l.CreatedAt, &convertedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}

	if err := json.Unmarshal([]byte(selectedJSON), &l.SelectedCategories); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal selected categories")
	}
	l.URL = url.String
	l.SignatureData = sig.String
	l.Fingerprint = fp.String
	l.UserAgent = ua.String
	l.TermsHash = termsHash.String
	l.VerificationToken = token.String
	l.CheckoutSessionID = sessionID.String
	l.InvoiceNumber = invoice.String
	l.SharePlatform = platform.String
	if ip.Valid {
		addr := ip.String
		l.IPAddress = &addr
	}
	if convertedAt.Valid {
		t := convertedAt.Time
		l.ConvertedAt = &t
	}
	return &l, nil
}
