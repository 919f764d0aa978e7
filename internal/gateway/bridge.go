package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

type MessageType string

const (
	MsgDeviceAdded     MessageType = "deviceAdded"
	MsgDeviceRemoved   MessageType = "deviceRemoved"
	MsgPropertyChanged MessageType = "propertyChanged"
	MsgEvent           MessageType = "event"
)

// Message is the JSON envelope sent to the gateway socket.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// AddressPayload identifies a device in removal messages.
type AddressPayload struct {
	Address string `json:"address"`
}

// PropertyPayload carries a property update.
type PropertyPayload struct {
	Address  string `json:"address"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// EventPayload carries a device event.
type EventPayload struct {
	Address string `json:"address"`
	Event   string `json:"event"`
}

// Bridge implements Handler over a WebSocket to the gateway add-on
// socket. Messages go through a buffered channel and a write pump
// goroutine so callers never block on the socket; if the gateway
// cannot keep up, messages are dropped with a warning.
type Bridge struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

var _ Handler = (*Bridge)(nil)

// Dial connects to the gateway add-on socket at url (ws://...).
func Dial(url string) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", url, err)
	}
	b := &Bridge{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go b.writePump()
	return b, nil
}

func (b *Bridge) writePump() {
	defer b.conn.Close()
	for msg := range b.send {
		if err := b.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Error("[gateway] write failed", "error", err)
			return
		}
	}
}

// Close stops the write pump and closes the socket.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.send) })
	return nil
}

func (b *Bridge) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("[gateway] marshal failed", "type", msg.Type, "error", err)
		return
	}
	select {
	case b.send <- data:
	default:
		slog.Warn("[gateway] send buffer full, dropping message", "type", msg.Type)
	}
}

func (b *Bridge) RegisterDevice(d Description) {
	b.enqueue(Message{Type: MsgDeviceAdded, Payload: d})
}

func (b *Bridge) UnregisterDevice(address string) {
	b.enqueue(Message{Type: MsgDeviceRemoved, Payload: AddressPayload{Address: address}})
}

func (b *Bridge) PropertyChanged(address, property string, value any) {
	b.enqueue(Message{Type: MsgPropertyChanged, Payload: PropertyPayload{
		Address:  address,
		Property: property,
		Value:    value,
	}})
}

func (b *Bridge) EmitEvent(address, event string) {
	b.enqueue(Message{Type: MsgEvent, Payload: EventPayload{
		Address: address,
		Event:   event,
	}})
}
