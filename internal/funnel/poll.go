package funnel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/model"
)

// DefaultPollInterval is the audit-status poll cadence while in the
// auditing state.
const DefaultPollInterval = 2 * time.Second

// AuditGetter fetches the current state of an audit by id.
type AuditGetter interface {
	Get(ctx context.Context, auditID string) (*model.Audit, error)
}

// Poller issues a status check immediately on start and then on a fixed
// interval until a terminal status is observed or the poller is stopped.
// Responses are applied in dispatch order only: if a later-dispatched
// request resolves before an earlier one, the earlier response is dropped
// when it finally arrives.
type Poller struct {
	client   AuditGetter
	auditID  string
	interval time.Duration
	onUpdate func(*model.Audit)

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	nextSeq uint64
	applied uint64
	stopped bool

	// deliverMu serializes the stale guard with the onUpdate call. Held
	// across both, it prevents a response that passed the guard first
	// from delivering after a later-dispatched one.
	deliverMu sync.Mutex
}

// NewPoller creates a poller for the given audit. onUpdate is invoked for
// every applied response, including the terminal one.
func NewPoller(client AuditGetter, auditID string, interval time.Duration, onUpdate func(*model.Audit)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:   client,
		auditID:  auditID,
		interval: interval,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
}

// Start begins polling. The poller owns exactly one background goroutine;
// it exits when a terminal status is applied, Stop is called, or ctx is
// cancelled.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	go func() {
		defer close(p.done)

		p.dispatch(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.dispatch(ctx)
			}
		}
	}()
}

// Stop cancels polling deterministically and waits for the poll goroutine
// to exit. Safe to call more than once and after terminal statuses.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// dispatch issues one status request. Each request carries a sequence
// number taken at dispatch time; the response is applied only if no
// later-dispatched response has been applied already.
func (p *Poller) dispatch(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.nextSeq++
	seq := p.nextSeq
	p.mu.Unlock()

	go func() {
		audit, err := p.client.Get(ctx, p.auditID)
		if err != nil {
			if ctx.Err() == nil {
				zap.L().Warn("funnel: audit status poll failed",
					zap.String("audit_id", p.auditID),
					zap.Error(err),
				)
			}
			return
		}
		p.apply(seq, audit)
	}()
}

func (p *Poller) apply(seq uint64, audit *model.Audit) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if p.stopped || seq <= p.applied {
		p.mu.Unlock()
		return
	}
	p.applied = seq
	terminal := audit.Status.Terminal()
	if terminal {
		p.stopped = true
	}
	p.mu.Unlock()

	p.onUpdate(audit)

	// Cancel the ticker loop once a terminal status has been delivered so
	// no interval outlives the auditing state.
	if terminal && p.cancel != nil {
		p.cancel()
	}
}
