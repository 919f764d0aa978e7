package adapter

import (
	"testing"
	"time"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

func newTestAdapter(client *mockClient) (*Adapter, *recorderGateway) {
	gw := &recorderGateway{}
	a := New(client, gw, Options{
		ScanTimeout:    time.Minute,
		ConnectTimeout: time.Minute,
	})
	return a, gw
}

func publicAdvertisement(addr protocol.ButtonAddress, name string) protocol.AdvertisementPacket {
	return protocol.AdvertisementPacket{
		Addr: addr,
		Name: name,
		RSSI: -55,
	}
}

func waitChannel(t *testing.T, client *mockClient) *flic.ConnectionChannel {
	t.Helper()
	select {
	case ch := <-client.channelAdded:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no connection attempt started")
		return nil
	}
}

func waitRegistered(t *testing.T, a *Adapter, addr protocol.ButtonAddress) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Registry().Has(addr) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device %s never registered", addr)
}

func TestPairingIgnoresPrivateButtons(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	adv := publicAdvertisement(testAddr, "Flic")
	adv.IsPrivate = true
	client.latestScanner().HandleAdvertisement(adv)

	if client.channelCount() != 0 {
		t.Error("private button triggered a connection attempt")
	}
	if a.pending.Contains(testAddr) {
		t.Error("private button reserved the address")
	}
}

func TestPairingSkipsVerifiedButtons(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	adv := publicAdvertisement(testAddr, "Flic")
	adv.AlreadyVerified = true
	client.latestScanner().HandleAdvertisement(adv)

	if client.channelCount() != 0 {
		t.Error("already verified button triggered a connection attempt")
	}
}

func TestPairingConnectsAndRegisters(t *testing.T) {
	client := newMockClient()
	a, gw := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	client.latestScanner().HandleAdvertisement(publicAdvertisement(testAddr, "Kitchen"))
	ch := waitChannel(t, client)
	ch.HandleCreateResponse(protocol.NoError, protocol.StatusConnected)
	ch.HandleStatusChanged(protocol.StatusReady, protocol.DisconnectUnspecified)

	waitRegistered(t, a, testAddr)
	d := a.Registry().Get(testAddr)
	if d.Name() != "Kitchen" {
		t.Errorf("Name() = %q, want %q", d.Name(), "Kitchen")
	}
	if d.Pushed() {
		t.Error("Pushed() = true for a fresh device")
	}
	if d.BatteryLevel() != defaultBatteryLevel {
		t.Errorf("BatteryLevel() = %d, want %d", d.BatteryLevel(), defaultBatteryLevel)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.added) != 1 || gw.added[0].Address != string(testAddr) {
		t.Errorf("gateway additions = %+v, want one for %s", gw.added, testAddr)
	}
}

func TestPairingDeduplicatesOverlappingAdvertisements(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	scanner := client.latestScanner()
	scanner.HandleAdvertisement(publicAdvertisement(testAddr, "Flic"))
	waitChannel(t, client)
	scanner.HandleAdvertisement(publicAdvertisement(testAddr, "Flic"))

	time.Sleep(50 * time.Millisecond)
	if got := client.channelCount(); got != 1 {
		t.Errorf("got %d connection attempts, want 1", got)
	}
}

func TestStartPairingIsNoopWhileActive(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("second StartPairing() error = %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.scanners) != 1 {
		t.Errorf("got %d scanners, want 1", len(client.scanners))
	}
}

func TestCancelPairingRemovesScannerAndClearsPending(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	scanner := client.latestScanner()
	scanner.HandleAdvertisement(publicAdvertisement(testAddr, "Flic"))
	waitChannel(t, client)
	if !a.pending.Contains(testAddr) {
		t.Fatal("address not pending after advertisement")
	}

	a.CancelPairing()

	if a.pending.Contains(testAddr) {
		t.Error("pending set not cleared by cancel")
	}
	client.mu.Lock()
	removedScanners := len(client.removedScanners)
	client.mu.Unlock()
	if removedScanners != 1 {
		t.Errorf("got %d scanner removals, want 1", removedScanners)
	}

	// A packet that was already in flight when pairing was cancelled
	// must not start a second attempt for the same button.
	scanner.HandleAdvertisement(publicAdvertisement(testAddr, "Flic"))
	time.Sleep(50 * time.Millisecond)
	if got := client.channelCount(); got != 1 {
		t.Errorf("got %d connection attempts, want 1", got)
	}
}

func TestLateSuccessAfterCancelStillRegisters(t *testing.T) {
	client := newMockClient()
	a, _ := newTestAdapter(client)
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	client.latestScanner().HandleAdvertisement(publicAdvertisement(testAddr, "Flic"))
	ch := waitChannel(t, client)

	// Cancelling does not abort the submitted connection request; an
	// almost-complete connection is not thrown away.
	a.CancelPairing()
	ch.HandleStatusChanged(protocol.StatusReady, protocol.DisconnectUnspecified)

	waitRegistered(t, a, testAddr)
}

func TestPairingWindowExpires(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	a := New(client, gw, Options{
		ScanTimeout:    30 * time.Millisecond,
		ConnectTimeout: time.Minute,
	})
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		client.mu.Lock()
		removed := len(client.removedScanners)
		client.mu.Unlock()
		if removed == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.mu.Lock()
	removed := len(client.removedScanners)
	client.mu.Unlock()
	if removed != 1 {
		t.Fatalf("got %d scanner removals after expiry, want 1", removed)
	}

	// The expired session is gone; pairing can start again.
	if err := a.StartPairing(0); err != nil {
		t.Fatalf("StartPairing() after expiry error = %v", err)
	}
	client.mu.Lock()
	scanners := len(client.scanners)
	client.mu.Unlock()
	if scanners != 2 {
		t.Errorf("got %d scanners, want 2", scanners)
	}
}
