// Package gateway publishes button devices to the smart-home gateway.
// The gateway add-on socket speaks JSON envelopes over a WebSocket;
// Handler is the interface the adapter core programs against so tests
// can record calls without a socket.
package gateway

// Description announces a device to the gateway.
type Description struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Handler is the host gateway collaborator. Implementations must not
// block: they are called from event dispatch paths.
type Handler interface {
	// RegisterDevice publishes a new device.
	RegisterDevice(d Description)
	// UnregisterDevice withdraws a device.
	UnregisterDevice(address string)
	// PropertyChanged reports a new property value for a device.
	PropertyChanged(address, property string, value any)
	// EmitEvent reports a stateless device event.
	EmitEvent(address, event string)
}
