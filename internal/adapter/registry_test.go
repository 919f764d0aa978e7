package adapter

import (
	"testing"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

func TestRegisterPublishesDevice(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)

	ch := flic.NewConnectionChannel(testAddr)
	d := r.Register(testAddr, ch, "Hallway")
	if d == nil {
		t.Fatal("Register() returned nil")
	}
	if !r.Has(testAddr) {
		t.Error("Has() = false after Register()")
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.added) != 1 {
		t.Fatalf("got %d gateway additions, want 1", len(gw.added))
	}
	if gw.added[0].Name != "Hallway" {
		t.Errorf("published name = %q, want %q", gw.added[0].Name, "Hallway")
	}
	if client.latestListener() == nil {
		t.Error("no battery listener attached")
	}
}

func TestRegisterDuplicateIsNoop(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)

	ch := flic.NewConnectionChannel(testAddr)
	first := r.Register(testAddr, ch, "Hallway")
	second := r.Register(testAddr, flic.NewConnectionChannel(testAddr), "Other")

	if second != first {
		t.Error("duplicate Register() did not return the existing device")
	}
	if second.Name() != "Hallway" {
		t.Errorf("Name() = %q, want original %q", second.Name(), "Hallway")
	}
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.added) != 1 {
		t.Errorf("got %d gateway additions, want 1", len(gw.added))
	}
}

func TestRemoveTearsDeviceDown(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)

	ch := flic.NewConnectionChannel(testAddr)
	r.Register(testAddr, ch, "Hallway")

	if err := r.Remove(testAddr); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if r.Has(testAddr) {
		t.Error("Has() = true after Remove()")
	}

	client.mu.Lock()
	if len(client.deleted) != 1 || client.deleted[0] != testAddr {
		t.Errorf("deleted buttons = %v, want [%s]", client.deleted, testAddr)
	}
	if len(client.removedListeners) != 1 {
		t.Errorf("got %d battery listener removals, want 1", len(client.removedListeners))
	}
	if len(client.removedChannels) != 1 {
		t.Errorf("got %d channel removals, want 1", len(client.removedChannels))
	}
	client.mu.Unlock()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.removed) != 1 || gw.removed[0] != string(testAddr) {
		t.Errorf("gateway removals = %v, want [%s]", gw.removed, testAddr)
	}

	// Button events after removal must not reach the gateway.
	ch.HandleButtonEvent(protocol.ButtonEvent{
		Opcode: protocol.EvtButtonUpOrDown,
		Click:  protocol.ButtonDown,
	})
	if len(gw.properties) != 0 {
		t.Errorf("properties after removal = %+v, want none", gw.properties)
	}
}

func TestRemoveUnknownDevice(t *testing.T) {
	r := NewRegistry(newMockClient(), &recorderGateway{})
	if err := r.Remove(testAddr); err == nil {
		t.Fatal("Remove() of an unknown address should fail")
	}
}

func TestRegisterRemoveRoundTrip(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)
	pending := NewPendingSet(r.Has)

	r.Register(testAddr, flic.NewConnectionChannel(testAddr), "Hallway")
	if pending.TryBegin(testAddr) {
		t.Error("TryBegin() = true for a registered device")
	}

	if err := r.Remove(testAddr); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	// Back to the pre-registration state: the address is free again.
	if !pending.TryBegin(testAddr) {
		t.Error("TryBegin() = false after device removal")
	}
}

func TestDevicePushedProperty(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)

	ch := flic.NewConnectionChannel(testAddr)
	d := r.Register(testAddr, ch, "Hallway")

	ch.HandleButtonEvent(protocol.ButtonEvent{Opcode: protocol.EvtButtonUpOrDown, Click: protocol.ButtonDown})
	if !d.Pushed() {
		t.Error("Pushed() = false after button down")
	}
	got := gw.lastProperty(t)
	if got.property != "pushed" || got.value != true {
		t.Errorf("property change = %+v, want pushed=true", got)
	}

	ch.HandleButtonEvent(protocol.ButtonEvent{Opcode: protocol.EvtButtonUpOrDown, Click: protocol.ButtonUp})
	if d.Pushed() {
		t.Error("Pushed() = true after button up")
	}
}

func TestDeviceClickEvents(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)

	ch := flic.NewConnectionChannel(testAddr)
	r.Register(testAddr, ch, "Hallway")

	clicks := []struct {
		click protocol.ClickType
		event string
	}{
		{protocol.ButtonSingleClick, "singleClick"},
		{protocol.ButtonDoubleClick, "doubleClick"},
		{protocol.ButtonHold, "hold"},
	}
	for _, c := range clicks {
		ch.HandleButtonEvent(protocol.ButtonEvent{Opcode: protocol.EvtButtonSingleOrDoubleClickOrHold, Click: c.click})
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.events) != len(clicks) {
		t.Fatalf("got %d events, want %d", len(gw.events), len(clicks))
	}
	for i, c := range clicks {
		if gw.events[i].event != c.event {
			t.Errorf("event[%d] = %q, want %q", i, gw.events[i].event, c.event)
		}
	}
}

func TestDeviceBatteryUpdates(t *testing.T) {
	client := newMockClient()
	gw := &recorderGateway{}
	r := NewRegistry(client, gw)

	d := r.Register(testAddr, flic.NewConnectionChannel(testAddr), "Hallway")
	listener := client.latestListener()
	if listener == nil {
		t.Fatal("no battery listener attached")
	}

	// The daemon reports -1 until it has read the level.
	listener.HandleStatus(-1, 0)
	if d.BatteryLevel() != defaultBatteryLevel {
		t.Errorf("BatteryLevel() = %d after unknown report, want %d", d.BatteryLevel(), defaultBatteryLevel)
	}

	listener.HandleStatus(85, 12345)
	if d.BatteryLevel() != 85 {
		t.Errorf("BatteryLevel() = %d, want 85", d.BatteryLevel())
	}
	got := gw.lastProperty(t)
	if got.property != "battery" || got.value != 85 {
		t.Errorf("property change = %+v, want battery=85", got)
	}
}
