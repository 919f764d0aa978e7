// Package adapter contains the connection and pairing lifecycle for
// Flic buttons: the per-button connection attempt state machine, the
// pairing scan session, and the registry of live devices published to
// the gateway.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
	"github.com/freaktechnik/flic-button-adapter/internal/gateway"
)

// DaemonClient is the surface of the flicd connection the adapter
// uses. *flic.Client implements it; tests substitute a mock.
type DaemonClient interface {
	GetInfo(ctx context.Context) (*protocol.GetInfoResponse, error)
	AddConnectionChannel(ch *flic.ConnectionChannel) error
	RemoveConnectionChannel(ch *flic.ConnectionChannel) error
	AddScanner(s *flic.Scanner) error
	RemoveScanner(s *flic.Scanner) error
	AddBatteryListener(l *flic.BatteryListener) error
	RemoveBatteryListener(l *flic.BatteryListener) error
	DeleteButton(addr protocol.ButtonAddress) error
	Close() error
}

// Options tunes the adapter's timeouts.
type Options struct {
	// ScanTimeout bounds a pairing session when StartPairing is called
	// with zero.
	ScanTimeout time.Duration
	// ConnectTimeout is the deadline of one connection attempt.
	ConnectTimeout time.Duration
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    60 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

// Adapter is the top-level controller: it owns the daemon client
// handle, the device registry, the pending-attempt bookkeeping and the
// single pairing session.
type Adapter struct {
	client   DaemonClient
	gw       gateway.Handler
	registry *Registry
	pending  *PendingSet
	opts     Options

	mu      sync.Mutex
	session *PairingSession
}

// New assembles an adapter around an established daemon client.
func New(client DaemonClient, gw gateway.Handler, opts Options) *Adapter {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultOptions().ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultOptions().ConnectTimeout
	}
	registry := NewRegistry(client, gw)
	return &Adapter{
		client:   client,
		gw:       gw,
		registry: registry,
		pending:  NewPendingSet(registry.Has),
		opts:     opts,
	}
}

// Registry exposes the device registry.
func (a *Adapter) Registry() *Registry {
	return a.registry
}

// Start queries the daemon and registers every button verified in
// earlier sessions. Those get a fresh channel but no connection
// attempt: the daemon already holds verified state for them and will
// bring them to Ready on its own.
func (a *Adapter) Start(ctx context.Context) error {
	info, err := a.client.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("adapter: query daemon info: %w", err)
	}
	if info.ControllerState != protocol.ControllerAttached {
		slog.Warn("[adapter] bluetooth controller not attached", "state", info.ControllerState)
	}
	slog.Info("[adapter] daemon ready", "verifiedButtons", len(info.Verified))

	for _, addr := range info.Verified {
		ch := flic.NewConnectionChannel(addr)
		if err := a.client.AddConnectionChannel(ch); err != nil {
			slog.Error("[adapter] restoring verified button", "address", addr, "error", err)
			continue
		}
		a.registry.Register(addr, ch, "Flic "+string(addr))
	}
	return nil
}

// StartPairing opens a pairing window. A no-op while a session is
// already running. A non-positive window uses the configured default.
func (a *Adapter) StartPairing(window time.Duration) error {
	if window <= 0 {
		window = a.opts.ScanTimeout
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		slog.Info("[adapter] pairing already in progress")
		return nil
	}
	session, err := newPairingSession(a.client, a.registry, a.pending, window, a.opts.ConnectTimeout, a.CancelPairing)
	if err != nil {
		return fmt.Errorf("adapter: start pairing: %w", err)
	}
	a.session = session
	return nil
}

// CancelPairing ends the active pairing session, if any. In-flight
// connection attempts are not aborted; see PairingSession.cancel.
func (a *Adapter) CancelPairing() {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()
	if session != nil {
		session.cancel()
	}
}

// RemoveDevice permanently forgets the button at addr.
func (a *Adapter) RemoveDevice(addr protocol.ButtonAddress) error {
	return a.registry.Remove(addr)
}

// Stop cancels pairing and closes the daemon connection.
func (a *Adapter) Stop() {
	a.CancelPairing()
	if err := a.client.Close(); err != nil {
		slog.Warn("[adapter] closing daemon connection", "error", err)
	}
}
