// Package evidence archives consent evidence bundles to the compliance
// FTP share. A bundle holds everything needed to prove an enrollment:
// the acceptance record, audit log entry, and signature image if present.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/enroll"
)

// Dialer opens FTP connections. The default uses jlaffaye/ftp; tests
// substitute a fake.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (Conn, error)

// Conn is the subset of *ftp.ServerConn the archiver uses.
type Conn interface {
	Login(user, password string) error
	MakeDir(path string) error
	Stor(path string, r *bytes.Reader) error
	Quit() error
}

// ftpConn adapts *ftp.ServerConn to Conn.
type ftpConn struct {
	conn *ftp.ServerConn
}

func (c *ftpConn) Login(user, password string) error { return c.conn.Login(user, password) }
func (c *ftpConn) MakeDir(p string) error            { return c.conn.MakeDir(p) }
func (c *ftpConn) Quit() error                       { return c.conn.Quit() }

func (c *ftpConn) Stor(p string, r *bytes.Reader) error {
	return c.conn.Stor(p, r)
}

func defaultDialer(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &ftpConn{conn: conn}, nil
}

// Config holds the FTP share settings.
type Config struct {
	Host     string
	User     string
	Password string
	BaseDir  string
	Timeout  time.Duration
}

// Archiver uploads evidence bundles.
type Archiver struct {
	cfg  Config
	dial Dialer
	log  *zap.Logger
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithDialer substitutes the FTP dialer (for testing).
func WithDialer(d Dialer) ArchiverOption {
	return func(a *Archiver) {
		a.dial = d
	}
}

// NewArchiver creates an Archiver for the given share.
func NewArchiver(cfg Config, opts ...ArchiverOption) *Archiver {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/evidence"
	}
	a := &Archiver{
		cfg:  cfg,
		dial: defaultDialer,
		log:  zap.L().With(zap.String("component", "evidence")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive uploads the enrollment record and signature under
// <base>/<reference>/. The record is serialized as JSON; the signature, if
// any, as PNG. The directory name is the reference code, which is unique.
func (a *Archiver) Archive(ctx context.Context, rec *enroll.Record, signaturePNG []byte) error {
	if rec == nil {
		return eris.New("evidence: record is required")
	}

	host := a.cfg.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}

	conn, err := a.dial(ctx, host, a.cfg.Timeout)
	if err != nil {
		return eris.Wrap(err, "evidence: ftp dial")
	}
	defer conn.Quit()

	if err := conn.Login(a.cfg.User, a.cfg.Password); err != nil {
		return eris.Wrap(err, "evidence: ftp login")
	}

	dir := path.Join(a.cfg.BaseDir, rec.Reference)
	// MakeDir fails if the directory exists; that's fine for re-archival.
	_ = conn.MakeDir(dir)

	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return eris.Wrap(err, "evidence: marshal record")
	}

	recordPath := path.Join(dir, "record.json")
	if err := conn.Stor(recordPath, bytes.NewReader(payload)); err != nil {
		return eris.Wrapf(err, "evidence: store %s", recordPath)
	}

	if len(signaturePNG) > 0 {
		sigPath := path.Join(dir, "signature.png")
		if err := conn.Stor(sigPath, bytes.NewReader(signaturePNG)); err != nil {
			return eris.Wrapf(err, "evidence: store %s", sigPath)
		}
	}

	a.log.Info("evidence archived",
		zap.String("reference", rec.Reference),
		zap.String("dir", dir),
		zap.Int("record_bytes", len(payload)),
		zap.Bool("has_signature", len(signaturePNG) > 0))
	return nil
}

// String implements fmt.Stringer for diagnostics.
func (c Config) String() string {
	return fmt.Sprintf("ftp://%s%s", c.Host, c.BaseDir)
}
