package status

import (
	"context"
	"sync"
)

// Tracker keeps at most one polling chain alive, following the current order.
type Tracker struct {
	poller *Poller
	mu     sync.Mutex
	ticket *Ticket
}

// NewTracker creates a tracker backed by poller.
func NewTracker(poller *Poller) *Tracker {
	return &Tracker{poller: poller}
}

// Track starts polling w.OrderID. A chain for a different order is
// cancelled first; a chain for the same order is kept.
func (tr *Tracker) Track(ctx context.Context, w Watch, onUpdate func(Update)) *Ticket {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.ticket != nil {
		if tr.ticket.OrderID() == w.OrderID && !tr.ticket.cancelled.Load() {
			return tr.ticket
		}
		tr.ticket.Cancel()
	}

	tr.ticket = tr.poller.Start(ctx, w, onUpdate)
	return tr.ticket
}

// Current returns the active ticket, or nil.
func (tr *Tracker) Current() *Ticket {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.ticket
}

// Stop cancels the active chain.
func (tr *Tracker) Stop() {
	tr.mu.Lock()
	t := tr.ticket
	tr.ticket = nil
	tr.mu.Unlock()

	if t != nil {
		t.Cancel()
	}
}
