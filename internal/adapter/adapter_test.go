package adapter

import (
	"context"
	"testing"

	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

func TestStartRegistersVerifiedButtons(t *testing.T) {
	client := newMockClient()
	client.info = protocol.GetInfoResponse{
		ControllerState: protocol.ControllerAttached,
		Verified: []protocol.ButtonAddress{
			"aa:bb:cc:dd:ee:ff",
			"80:e4:da:71:12:34",
		},
	}
	a, gw := newTestAdapter(client)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Verified buttons are trusted: a channel each, no connection
	// attempt, registered immediately.
	if got := a.Registry().Len(); got != 2 {
		t.Errorf("Registry().Len() = %d, want 2", got)
	}
	if got := client.channelCount(); got != 2 {
		t.Errorf("got %d channels, want 2", got)
	}
	if a.pending.Contains("aa:bb:cc:dd:ee:ff") {
		t.Error("verified button went through the pending set")
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.added) != 2 {
		t.Errorf("got %d gateway additions, want 2", len(gw.added))
	}
}

func TestRemoveDevice(t *testing.T) {
	client := newMockClient()
	client.info = protocol.GetInfoResponse{
		ControllerState: protocol.ControllerAttached,
		Verified:        []protocol.ButtonAddress{testAddr},
	}
	a, _ := newTestAdapter(client)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := a.RemoveDevice(testAddr); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if a.Registry().Has(testAddr) {
		t.Error("device still registered after RemoveDevice()")
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.deleted) != 1 {
		t.Errorf("got %d pairing record deletions, want 1", len(client.deleted))
	}
}

func TestStopClosesClient(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	a.Stop()

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.closed {
		t.Error("client not closed by Stop()")
	}
	if len(client.removedScanners) != 1 {
		t.Errorf("got %d scanner removals, want 1", len(client.removedScanners))
	}
}

func TestPendingSetGate(t *testing.T) {
	p := NewPendingSet(nil)
	if !p.TryBegin(testAddr) {
		t.Fatal("TryBegin() = false for a fresh address")
	}
	if p.TryBegin(testAddr) {
		t.Error("TryBegin() = true for a reserved address")
	}
	p.End(testAddr)
	if !p.TryBegin(testAddr) {
		t.Error("TryBegin() = false after End()")
	}
	p.Clear()
	if !p.TryBegin(testAddr) {
		t.Error("TryBegin() = false after Clear()")
	}
}
