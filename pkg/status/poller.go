package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"btc-borrow/pkg/logger"
	"btc-borrow/pkg/types"
)

// DefaultInterval is the delay between two status fetches.
const DefaultInterval = 3 * time.Second

// Fetcher loads the current state of an order.
type Fetcher interface {
	GetOrder(ctx context.Context, orderID string) (*types.OrderDetail, error)
}

// Watch identifies the order to poll. DepositAddress and AmountSats are
// shown until the backend reports its own values.
type Watch struct {
	OrderID        string
	DepositAddress string
	AmountSats     string
}

// Update is one status observation delivered to the subscriber.
type Update struct {
	OrderID         string
	Status          string
	Step            Step
	DepositAddress  string
	AmountSats      string
	SourceTxID      string
	DestinationTxID string
	Error           string
}

// Terminal reports whether the update carries a final status.
func (u Update) Terminal() bool {
	return IsTerminal(u.Status)
}

// Poller periodically fetches order status.
type Poller struct {
	fetcher  Fetcher
	interval time.Duration
	log      zerolog.Logger
}

// NewPoller creates a poller. A non-positive interval uses DefaultInterval.
func NewPoller(fetcher Fetcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
		log:      logger.Logger.With().Str("component", "status").Logger(),
	}
}

// WithLogger returns a copy of the poller logging to l.
func (p *Poller) WithLogger(l zerolog.Logger) *Poller {
	cp := *p
	cp.log = l
	return &cp
}

// Ticket controls one polling chain.
type Ticket struct {
	orderID   string
	cancel    context.CancelFunc
	stopChan  chan struct{}
	done      chan struct{}
	cancelled atomic.Bool
	stopOnce  sync.Once

	// pubMu is held while an update is delivered.
	pubMu sync.Mutex

	errMu   sync.Mutex
	lastErr error
}

// OrderID returns the polled order.
func (t *Ticket) OrderID() string {
	return t.orderID
}

// Cancel stops the chain and does not wait for it. A delivery already
// running when Cancel is called completes, but no update starts after
// Cancel returns. It is safe to call from inside the update callback.
func (t *Ticket) Cancel() {
	if t.pubMu.TryLock() {
		t.cancelled.Store(true)
		t.pubMu.Unlock()
	} else {
		// A delivery is in progress, possibly the caller itself.
		t.cancelled.Store(true)
	}
	t.stopOnce.Do(func() {
		close(t.stopChan)
		t.cancel()
	})
}

// Done is closed when the polling goroutine has exited.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// LastError returns the error of the most recent failed fetch, or nil when
// the last fetch succeeded.
func (t *Ticket) LastError() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastErr
}

func (t *Ticket) setLastError(err error) {
	t.errMu.Lock()
	t.lastErr = err
	t.errMu.Unlock()
}

// deliver calls fn unless the ticket was cancelled.
func (t *Ticket) deliver(fn func()) bool {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()
	if t.cancelled.Load() {
		return false
	}
	fn()
	return true
}

// Start fetches the order immediately and then every interval until the
// ticket is cancelled or ctx ends. Fetch errors are recorded on the ticket
// and do not stop the chain.
func (p *Poller) Start(ctx context.Context, w Watch, onUpdate func(Update)) *Ticket {
	ctx, cancel := context.WithCancel(ctx)
	t := &Ticket{
		orderID:  w.OrderID,
		cancel:   cancel,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go p.monitor(ctx, t, w, onUpdate)
	return t
}

func (p *Poller) monitor(ctx context.Context, t *Ticket, w Watch, onUpdate func(Update)) {
	defer close(t.done)

	log := p.log.With().Str("order_id", w.OrderID).Logger()
	log.Debug().Dur("interval", p.interval).Msg("status polling started")

	timer := time.NewTimer(p.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		if t.cancelled.Load() || ctx.Err() != nil {
			return
		}

		p.poll(ctx, t, w, onUpdate, log)

		if t.cancelled.Load() {
			return
		}
		timer.Reset(p.interval)

		select {
		case <-t.stopChan:
			log.Debug().Msg("status polling stopped")
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, t *Ticket, w Watch, onUpdate func(Update), log zerolog.Logger) {
	detail, err := p.fetcher.GetOrder(ctx, w.OrderID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.setLastError(err)
		log.Warn().Err(err).Msg("status poll failed")
		return
	}
	t.setLastError(nil)

	u := Update{
		OrderID:         w.OrderID,
		Status:          detail.Status,
		Step:            StepForStatus(detail.Status),
		DepositAddress:  detail.DepositAddress(),
		AmountSats:      detail.AmountSats(),
		SourceTxID:      detail.SourceTxID,
		DestinationTxID: detail.DestinationTxID,
		Error:           detail.Error,
	}
	if u.DepositAddress == "" {
		u.DepositAddress = w.DepositAddress
	}
	if u.AmountSats == "" {
		u.AmountSats = w.AmountSats
	}

	if t.deliver(func() { onUpdate(u) }) {
		log.Debug().Str("status", u.Status).Int("step", int(u.Step)).Msg("status update")
	}
}
