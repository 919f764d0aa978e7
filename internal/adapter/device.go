package adapter

import (
	"log/slog"
	"sync"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
	"github.com/freaktechnik/flic-button-adapter/internal/gateway"
)

// defaultBatteryLevel is reported until the first battery status
// event arrives.
const defaultBatteryLevel = 100

// Device is a verified, connected button published to the gateway. It
// owns its connection channel and battery listener until the registry
// removes it.
type Device struct {
	addr    protocol.ButtonAddress
	name    string
	channel *flic.ConnectionChannel
	battery *flic.BatteryListener
	gw      gateway.Handler

	mu           sync.Mutex
	pushed       bool
	batteryLevel int
}

// newDevice wires the channel's button streams and returns the device.
// The battery listener is attached by the registry.
func newDevice(addr protocol.ButtonAddress, name string, ch *flic.ConnectionChannel, gw gateway.Handler) *Device {
	d := &Device{
		addr:         addr,
		name:         name,
		channel:      ch,
		gw:           gw,
		batteryLevel: defaultBatteryLevel,
	}

	ch.OnButtonUpOrDown(func(click protocol.ClickType, _ bool, _ uint32) {
		switch click {
		case protocol.ButtonDown:
			d.setPushed(true)
		case protocol.ButtonUp:
			d.setPushed(false)
		}
	})
	ch.OnButtonClick(func(click protocol.ClickType, wasQueued bool, timeDiff uint32) {
		if wasQueued {
			slog.Debug("[adapter] queued click", "address", addr, "click", click, "ageSeconds", timeDiff)
		}
		switch click {
		case protocol.ButtonSingleClick:
			d.gw.EmitEvent(string(addr), "singleClick")
		case protocol.ButtonDoubleClick:
			d.gw.EmitEvent(string(addr), "doubleClick")
		case protocol.ButtonHold:
			d.gw.EmitEvent(string(addr), "hold")
		}
	})
	ch.OnStatusChanged(func(status protocol.ConnectionStatus, reason protocol.DisconnectReason) {
		// The daemon reconnects verified buttons on its own; status
		// changes after Ready are informational.
		slog.Info("[adapter] device connection status changed",
			"address", addr, "status", status, "reason", reason)
	})
	ch.OnRemoved(func(reason protocol.RemovedReason) {
		slog.Warn("[adapter] device channel removed", "address", addr, "reason", reason)
	})

	return d
}

// Name returns the display name the button was registered with.
func (d *Device) Name() string {
	return d.name
}

// Addr returns the button address.
func (d *Device) Addr() protocol.ButtonAddress {
	return d.addr
}

// Pushed reports whether the button is currently held down.
func (d *Device) Pushed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pushed
}

// BatteryLevel returns the last reported battery percentage.
func (d *Device) BatteryLevel() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batteryLevel
}

func (d *Device) setPushed(pushed bool) {
	d.mu.Lock()
	changed := d.pushed != pushed
	d.pushed = pushed
	d.mu.Unlock()
	if changed {
		d.gw.PropertyChanged(string(d.addr), "pushed", pushed)
	}
}

// handleBattery consumes battery listener reports. The daemon sends -1
// while the level is still unknown.
func (d *Device) handleBattery(percentage int8, _ uint64) {
	if percentage < 0 {
		return
	}
	level := int(percentage)
	d.mu.Lock()
	changed := d.batteryLevel != level
	d.batteryLevel = level
	d.mu.Unlock()
	if changed {
		d.gw.PropertyChanged(string(d.addr), "battery", level)
	}
}
