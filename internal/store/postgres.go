package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/awa-labs/webauditor/internal/db"
	"github.com/awa-labs/webauditor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest paths: the 2-second audit poll and lead creation.
var preparedStatements = map[string]string{
	"get_audit":           `SELECT id, url, status, categories, scores, overall, issues, error, created_at, completed_at FROM audits WHERE id = $1`,
	"insert_audit":        `INSERT INTO audits (id, url, status, categories, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_audit_status": `UPDATE audits SET status = $1 WHERE id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS audits (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	categories   JSONB NOT NULL DEFAULT '[]',
	scores       JSONB,
	overall      INTEGER NOT NULL DEFAULT 0,
	issues       JSONB,
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
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
	selected            JSONB NOT NULL DEFAULT '[]',
	signature_data      TEXT,
	newsletter          BOOLEAN NOT NULL DEFAULT false,
	fingerprint         TEXT,
	ip_address          TEXT,
	user_agent          TEXT,
	terms_hash          TEXT,
	terms_accepted_at   TIMESTAMPTZ NOT NULL,
	verification_token  TEXT,
	email_verified      BOOLEAN NOT NULL DEFAULT false,
	status              TEXT NOT NULL DEFAULT 'pending',
	payment_status      TEXT NOT NULL DEFAULT 'pending',
	checkout_session_id TEXT,
	invoice_number      TEXT,
	share_completed     BOOLEAN NOT NULL DEFAULT false,
	share_platform      TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	converted_at        TIMESTAMPTZ,
	UNIQUE(email, audit_id)
);

CREATE TABLE IF NOT EXISTS terms_acceptances (
	id             TEXT PRIMARY KEY,
	lead_id        TEXT,
	terms_version  TEXT NOT NULL,
	accepted_at    TIMESTAMPTZ NOT NULL,
	ip_address     TEXT,
	user_agent     TEXT,
	terms_hash     TEXT NOT NULL,
	signature_hash TEXT,
	fingerprint    TEXT
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	user_id    TEXT,
	lead_id    TEXT,
	email      TEXT,
	ip_address TEXT,
	user_agent TEXT,
	metadata   JSONB
);

CREATE INDEX IF NOT EXISTS idx_audits_status ON audits(status);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAudit(ctx context.Context, url string, categories []model.Category) (*model.Audit, error) {
	if len(categories) == 0 {
		categories = model.AllCategories()
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	catsJSON, err := json.Marshal(categories)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal categories")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audits (id, url, status, categories, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, url, string(model.AuditStatusPending), catsJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert audit")
	}

	return &model.Audit{
		ID:         id,
		URL:        url,
		Status:     model.AuditStatusPending,
		Categories: categories,
		CreatedAt:  now,
	}, nil
}

func (s *PostgresStore) UpdateAuditStatus(ctx context.Context, auditID string, status model.AuditStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audits SET status = $1 WHERE id = $2`,
		string(status), auditID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audit status %s", auditID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit %s", auditID)
	}
	return nil
}

func (s *PostgresStore) CompleteAudit(ctx context.Context, audit *model.Audit) error {
	scoresJSON, err := json.Marshal(audit.Scores)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scores")
	}
	issuesJSON, err := json.Marshal(audit.Issues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal issues")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE audits SET status = $1, scores = $2, overall = $3, issues = $4, completed_at = $5 WHERE id = $6`,
		string(model.AuditStatusCompleted), scoresJSON, audit.OverallScore, issuesJSON, time.Now().UTC(), audit.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete audit %s", audit.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit %s", audit.ID)
	}
	return nil
}

func (s *PostgresStore) FailAudit(ctx context.Context, auditID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audits SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.AuditStatusFailed), reason, time.Now().UTC(), auditID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail audit %s", auditID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audit %s", auditID)
	}
	return nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, auditID string) (*model.Audit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, url, status, categories, scores, overall, issues, error, created_at, completed_at FROM audits WHERE id = $1`,
		auditID,
	)

	var a model.Audit
	var catsJSON []byte
	var scoresJSON, issuesJSON []byte
	var errMsg *string
	var completedAt *time.Time

	err := row.Scan(&a.ID, &a.URL, &a.Status, &catsJSON, &scoresJSON, &a.OverallScore, &issuesJSON, &errMsg, &a.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "audit %s", auditID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get audit")
	}

	if err := json.Unmarshal(catsJSON, &a.Categories); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal categories")
	}
	if len(scoresJSON) > 0 {
		if err := json.Unmarshal(scoresJSON, &a.Scores); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal scores")
		}
	}
	if len(issuesJSON) > 0 {
		if err := json.Unmarshal(issuesJSON, &a.Issues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal issues")
		}
	}
	if errMsg != nil {
		a.Error = *errMsg
	}
	a.CompletedAt = completedAt
	return &a, nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	var existing int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM leads WHERE email = $1 AND audit_id = $2`,
		lead.Email, lead.AuditID,
	).Scan(&existing)
	if err != nil {
		return eris.Wrap(err, "postgres: check duplicate lead")
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
		return eris.Wrap(err, "postgres: marshal selected categories")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (
			id, reference, email, name, language, audit_id, url, package_id, selected,
			signature_data, newsletter, fingerprint, ip_address, user_agent, terms_hash,
			terms_accepted_at, verification_token, email_verified, status, payment_status,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		lead.ID, lead.Reference, lead.Email, lead.Name, lead.Language, lead.AuditID,
		lead.URL, lead.PackageID, selectedJSON, lead.SignatureData,
		lead.NewsletterConsent, lead.Fingerprint, lead.IPAddress, lead.UserAgent,
		lead.TermsHash, lead.TermsAcceptedAt, lead.VerificationToken,
		lead.EmailVerified, string(lead.Status), string(lead.PaymentStatus),
		lead.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert lead")
}

const pgLeadColumns = `id, reference, email, name, language, audit_id, url, package_id, selected,
	signature_data, newsletter, fingerprint, ip_address, user_agent, terms_hash,
	terms_accepted_at, verification_token, email_verified, status, payment_status,
	checkout_session_id, invoice_number, share_completed, share_platform, created_at, converted_at`

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE id = $1`, leadID)
	return scanPgLead(row)
}

func (s *PostgresStore) GetLeadByReference(ctx context.Context, reference string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE reference = $1`, reference)
	return scanPgLead(row)
}

func (s *PostgresStore) UpdateLeadPayment(ctx context.Context, leadID string, status model.PaymentStatus, sessionID, invoice string) error {
	lead, err := s.GetLead(ctx, leadID)
	if err != nil {
		return err
	}

	leadStatus := lead.Status
	convertedAt := lead.ConvertedAt
	if status == model.PaymentStatusPaid {
		leadStatus = model.LeadStatusConverted
		now := time.Now().UTC()
		convertedAt = &now
	}
	if sessionID == "" {
		sessionID = lead.CheckoutSessionID
	}
	if invoice == "" {
		invoice = lead.InvoiceNumber
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET payment_status = $1, checkout_session_id = $2, invoice_number = $3, status = $4, converted_at = $5 WHERE id = $6`,
		string(status), sessionID, invoice, string(leadStatus), convertedAt, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead payment %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return nil
}

func (s *PostgresStore) CompleteSocialShare(ctx context.Context, leadID, platform string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET share_completed = true, share_platform = $1, status = $2, converted_at = $3 WHERE id = $4`,
		platform, string(model.LeadStatusConverted), time.Now().UTC(), leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete social share %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", leadID)
	}
	return nil
}

func (s *PostgresStore) VerifyLeadEmail(ctx context.Context, token string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE verification_token = $1`, token)
	lead, err := scanPgLead(row)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE leads SET email_verified = true, verification_token = NULL, status = $1 WHERE id = $2`,
		string(model.LeadStatusVerified), lead.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: verify lead email %s", lead.ID)
	}

	lead.EmailVerified = true
	lead.VerificationToken = ""
	lead.Status = model.LeadStatusVerified
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, int, error) {
	countQuery := `SELECT COUNT(1) FROM leads`
	var countArgs []any
	if filter.Status != "" {
		countQuery += ` WHERE status = $1`
		countArgs = append(countArgs, string(filter.Status))
	}
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count leads")
	}

	query := `SELECT ` + pgLeadColumns + ` FROM leads`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		query += ` WHERE status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, *l)
	}
	return leads, total, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) LeadStats(ctx context.Context) (*LeadStats, error) {
	stats := &LeadStats{
		ByStatus:  make(map[string]int),
		ByPackage: make(map[string]int),
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lead stats by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: lead stats iterate")
	}

	pkgRows, err := s.pool.Query(ctx, `SELECT package_id, COUNT(1) FROM leads GROUP BY package_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lead stats by package")
	}
	defer pkgRows.Close()
	for pkgRows.Next() {
		var pkg string
		var n int
		if err := pkgRows.Scan(&pkg, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan package count")
		}
		stats.ByPackage[pkg] = n
	}
	if err := pkgRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: lead stats iterate")
	}

	if stats.Total > 0 {
		stats.ConversionRate = float64(stats.ByStatus[string(model.LeadStatusConverted)]) / float64(stats.Total) * 100
	}
	return stats, nil
}

func (s *PostgresStore) SaveTermsAcceptance(ctx context.Context, acc model.TermsAcceptance) error {
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO terms_acceptances (id, lead_id, terms_version, accepted_at, ip_address, user_agent, terms_hash, signature_hash, fingerprint)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		acc.ID, acc.LeadID, acc.TermsVersion, acc.AcceptedAt, acc.IPAddress,
		acc.UserAgent, acc.TermsHash, acc.SignatureHash, acc.Fingerprint,
	)
	return eris.Wrap(err, "postgres: insert terms acceptance")
}

func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry model.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit log metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, action, ts, user_id, lead_id, email, ip_address, user_agent, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Action), entry.Timestamp, entry.UserID, entry.LeadID,
		entry.Email, entry.IPAddress, entry.UserAgent, metaJSON,
	)
	return eris.Wrap(err, "postgres: insert audit log entry")
}

func scanPgLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var selectedJSON []byte
	var url, sig, fp, ua, termsHash, token, sessionID, invoice, platform *string
	var ip *string
	var convertedAt *time.Time

	err := row.Scan(
		&l.ID, &l.Reference, &l.Email, &l.Name, &l.Language, &l.AuditID, &url,
		&l.PackageID, &selectedJSON, &sig, &l.NewsletterConsent, &fp, &ip, &ua,
		&termsHash, &l.TermsAcceptedAt, &token, &l.EmailVerified, &l.Status,
		&l.PaymentStatus, &sessionID, &invoice, &l.ShareCompleted, &platform,
		&l.CreatedAt, &convertedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan lead")
	}

	if err := json.Unmarshal(selectedJSON, &l.SelectedCategories); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal selected categories")
	}
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	l.URL = deref(url)
	l.SignatureData = deref(sig)
	l.Fingerprint = deref(fp)
	l.UserAgent = deref(ua)
	l.TermsHash = deref(termsHash)
	l.VerificationToken = deref(token)
	l.CheckoutSessionID = deref(sessionID)
	l.InvoiceNumber = deref(invoice)
	l.SharePlatform = deref(platform)
	l.IPAddress = ip
	l.ConvertedAt = convertedAt
	return &l, nil
}
