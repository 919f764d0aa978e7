package adapter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
	"github.com/freaktechnik/flic-button-adapter/internal/gateway"
)

// Registry maps each verified button address to its single live
// device. It owns device registration and removal, including the
// battery listener lifecycle.
type Registry struct {
	client DaemonClient
	gw     gateway.Handler

	mu      sync.Mutex
	devices map[protocol.ButtonAddress]*Device
}

// NewRegistry creates an empty registry.
func NewRegistry(client DaemonClient, gw gateway.Handler) *Registry {
	return &Registry{
		client:  client,
		gw:      gw,
		devices: make(map[protocol.ButtonAddress]*Device),
	}
}

// Has reports whether addr has a live device.
func (r *Registry) Has(addr protocol.ButtonAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.devices[addr]
	return exists
}

// Get returns the live device for addr, or nil.
func (r *Registry) Get(addr protocol.ButtonAddress) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[addr]
}

// Len returns the number of live devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Register constructs a device around a Ready channel, attaches its
// battery listener and publishes it to the gateway. Registering an
// address that already has a device is a no-op.
func (r *Registry) Register(addr protocol.ButtonAddress, ch *flic.ConnectionChannel, name string) *Device {
	r.mu.Lock()
	if existing, ok := r.devices[addr]; ok {
		r.mu.Unlock()
		slog.Warn("[adapter] duplicate device registration ignored", "address", addr)
		return existing
	}
	d := newDevice(addr, name, ch, r.gw)
	r.devices[addr] = d
	r.mu.Unlock()

	listener := flic.NewBatteryListener(addr)
	listener.OnStatus(d.handleBattery)
	if err := r.client.AddBatteryListener(listener); err != nil {
		slog.Warn("[adapter] battery listener unavailable", "address", addr, "error", err)
	} else {
		d.battery = listener
	}

	r.gw.RegisterDevice(gateway.Description{
		Address: string(addr),
		Name:    name,
	})
	slog.Info("[adapter] device registered", "address", addr, "name", name)
	return d
}

// Remove tears a device down: all listeners are unsubscribed, the
// daemon's pairing record and channel are deleted, and the gateway is
// informed. This is the only path that permanently forgets a button.
func (r *Registry) Remove(addr protocol.ButtonAddress) error {
	r.mu.Lock()
	d, ok := r.devices[addr]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("adapter: no device registered for %s", addr)
	}
	delete(r.devices, addr)
	r.mu.Unlock()

	d.channel.ClearHandlers()
	if d.battery != nil {
		if err := r.client.RemoveBatteryListener(d.battery); err != nil {
			slog.Warn("[adapter] removing battery listener", "address", addr, "error", err)
		}
	}
	if err := r.client.DeleteButton(addr); err != nil {
		slog.Warn("[adapter] deleting pairing record", "address", addr, "error", err)
	}
	if err := r.client.RemoveConnectionChannel(d.channel); err != nil {
		slog.Warn("[adapter] removing channel", "address", addr, "error", err)
	}

	r.gw.UnregisterDevice(string(addr))
	slog.Info("[adapter] device removed", "address", addr)
	return nil
}
