package adapter

import (
	"sync"

	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

// PendingSet tracks the addresses with an unresolved connection
// attempt. Together with the inUse hook it is the sole defense against
// two concurrent attempts for the same button when advertisements
// overlap.
type PendingSet struct {
	inUse func(protocol.ButtonAddress) bool

	mu      sync.Mutex
	pending map[protocol.ButtonAddress]struct{}
}

// NewPendingSet creates an empty set. inUse reports whether an address
// already has a live device; it may be nil.
func NewPendingSet(inUse func(protocol.ButtonAddress) bool) *PendingSet {
	return &PendingSet{
		inUse:   inUse,
		pending: make(map[protocol.ButtonAddress]struct{}),
	}
}

// TryBegin reserves addr for a new connection attempt. It returns
// false when the address already has a live device or an in-flight
// attempt.
func (p *PendingSet) TryBegin(addr protocol.ButtonAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.pending[addr]; exists {
		return false
	}
	if p.inUse != nil && p.inUse(addr) {
		return false
	}
	p.pending[addr] = struct{}{}
	return true
}

// End releases addr after its attempt resolved. Releasing an address
// that is not reserved is a no-op.
func (p *PendingSet) End(addr protocol.ButtonAddress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, addr)
}

// Clear drops every reservation at once.
func (p *PendingSet) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.pending)
}

// Contains reports whether addr currently has a reservation.
func (p *PendingSet) Contains(addr protocol.ButtonAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.pending[addr]
	return exists
}
