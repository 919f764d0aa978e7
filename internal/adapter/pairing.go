package adapter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

// PairingSession is one time-bounded scan for new buttons. At most one
// session exists at a time; the Adapter enforces that.
type PairingSession struct {
	client         DaemonClient
	registry       *Registry
	pending        *PendingSet
	scanner        *flic.Scanner
	timer          *time.Timer
	connectTimeout time.Duration

	mu     sync.Mutex
	active bool
}

// newPairingSession registers a scanner and arms the auto-cancel
// deadline. expired runs when the deadline fires without an explicit
// cancel.
func newPairingSession(client DaemonClient, registry *Registry, pending *PendingSet, scanTimeout, connectTimeout time.Duration, expired func()) (*PairingSession, error) {
	s := &PairingSession{
		client:         client,
		registry:       registry,
		pending:        pending,
		connectTimeout: connectTimeout,
		active:         true,
	}
	s.scanner = flic.NewScanner()
	s.scanner.OnAdvertisement(s.handleAdvertisement)
	if err := client.AddScanner(s.scanner); err != nil {
		return nil, err
	}
	s.timer = time.AfterFunc(scanTimeout, func() {
		slog.Info("[adapter] pairing window expired")
		expired()
	})
	slog.Info("[adapter] pairing started", "window", scanTimeout)
	return s, nil
}

func (s *PairingSession) handleAdvertisement(adv protocol.AdvertisementPacket) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		// A packet already in flight when the session was cancelled.
		// The PendingSet was cleared, so without this check the packet
		// could start a second attempt for a button that still has one
		// running.
		return
	}
	if adv.IsPrivate {
		slog.Warn("[adapter] button is private, hold it down for 7 seconds to make it connectable",
			"address", adv.Addr)
		return
	}
	if adv.AlreadyVerified {
		return
	}
	if !s.pending.TryBegin(adv.Addr) {
		return
	}
	slog.Info("[adapter] found button, connecting",
		"address", adv.Addr, "name", adv.Name, "rssi", adv.RSSI)
	go s.connectButton(adv)
}

func (s *PairingSession) connectButton(adv protocol.AdvertisementPacket) {
	ch, err := connect(s.client, s.pending, adv.Addr, s.connectTimeout)
	if err != nil {
		// Already logged by the attempt; nothing else to do, the
		// button can simply be discovered again.
		return
	}
	name := adv.Name
	if name == "" {
		name = "Flic " + string(adv.Addr)
	}
	s.registry.Register(adv.Addr, ch, name)
}

// cancel stops scanning, disarms the deadline and clears the pending
// bookkeeping. Attempts whose channel is already submitted are not
// aborted: a late success still registers its device, a late failure
// is only logged.
func (s *PairingSession) cancel() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	s.timer.Stop()
	if err := s.client.RemoveScanner(s.scanner); err != nil {
		slog.Warn("[adapter] removing scanner", "error", err)
	}
	s.pending.Clear()
	slog.Info("[adapter] pairing stopped")
}
