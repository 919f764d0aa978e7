// Package flic is a client for the flicd daemon socket protocol. It
// owns the single TCP connection to the daemon and dispatches decoded
// events to the channel, scanner and battery listener objects
// registered with it.
package flic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

// ErrClosed is returned for commands issued after the connection died.
var ErrClosed = errors.New("flic: connection closed")

// autoDisconnectNever disables the daemon's idle auto-disconnect for a
// channel; the adapter decides channel lifetime itself.
const autoDisconnectNever int16 = 511

// Client is a connection to flicd. Events are read and dispatched by a
// single goroutine, so no two callbacks ever run concurrently.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	closeErr error
	onClose  func(error)
	channels map[uint32]*ConnectionChannel
	scanners map[uint32]*Scanner
	battery  map[uint32]*BatteryListener
	infoWait []chan protocol.GetInfoResponse

	nextID atomic.Uint32
}

// Dial connects to flicd at addr (host:port) and starts the event
// dispatch loop.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("flic: dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection. Tests use it with one end
// of a net.Pipe.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:     conn,
		channels: make(map[uint32]*ConnectionChannel),
		scanners: make(map[uint32]*Scanner),
		battery:  make(map[uint32]*BatteryListener),
	}
	go c.readLoop()
	return c
}

// OnClose registers a callback invoked once when the daemon connection
// dies. A deliberate Close passes nil.
func (c *Client) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Close shuts the connection down deliberately.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// GetInfo queries daemon state, including the addresses of buttons
// verified in earlier sessions.
func (c *Client) GetInfo(ctx context.Context) (*protocol.GetInfoResponse, error) {
	wait := make(chan protocol.GetInfoResponse, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.infoWait = append(c.infoWait, wait)
	c.mu.Unlock()

	if err := c.send(protocol.MarshalGetInfo()); err != nil {
		return nil, err
	}

	select {
	case info := <-wait:
		return &info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("flic: get info: %w", ctx.Err())
	}
}

// AddConnectionChannel submits the channel to the daemon, which starts
// trying to reach the button. Responses arrive on the channel's
// callbacks.
func (c *Client) AddConnectionChannel(ch *ConnectionChannel) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if ch.id == 0 {
		ch.id = c.nextID.Add(1)
	}
	c.channels[ch.id] = ch
	c.mu.Unlock()

	payload, err := protocol.MarshalCreateConnectionChannel(ch.id, ch.addr, protocol.LatencyNormal, autoDisconnectNever)
	if err != nil {
		c.mu.Lock()
		delete(c.channels, ch.id)
		c.mu.Unlock()
		return err
	}
	return c.send(payload)
}

// RemoveConnectionChannel asks the daemon to drop the channel. The
// daemon echoes a removed event, at which point the channel is
// deregistered. Removing an unknown channel is a no-op.
func (c *Client) RemoveConnectionChannel(ch *ConnectionChannel) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, known := c.channels[ch.id]
	c.mu.Unlock()
	if !known {
		return nil
	}
	return c.send(protocol.MarshalRemoveConnectionChannel(ch.id))
}

// AddScanner starts delivering advertisement packets to s.
func (c *Client) AddScanner(s *Scanner) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if s.id == 0 {
		s.id = c.nextID.Add(1)
	}
	c.scanners[s.id] = s
	c.mu.Unlock()
	return c.send(protocol.MarshalCreateScanner(s.id))
}

// RemoveScanner stops scanning for s. There is no daemon echo for
// scanner removal, so the scanner is deregistered immediately.
func (c *Client) RemoveScanner(s *Scanner) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, known := c.scanners[s.id]
	delete(c.scanners, s.id)
	c.mu.Unlock()
	if !known {
		return nil
	}
	return c.send(protocol.MarshalRemoveScanner(s.id))
}

// AddBatteryListener starts delivering battery reports for the
// listener's button.
func (c *Client) AddBatteryListener(l *BatteryListener) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if l.id == 0 {
		l.id = c.nextID.Add(1)
	}
	c.battery[l.id] = l
	c.mu.Unlock()

	payload, err := protocol.MarshalCreateBatteryStatusListener(l.id, l.addr)
	if err != nil {
		c.mu.Lock()
		delete(c.battery, l.id)
		c.mu.Unlock()
		return err
	}
	return c.send(payload)
}

// RemoveBatteryListener stops battery reports for l.
func (c *Client) RemoveBatteryListener(l *BatteryListener) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, known := c.battery[l.id]
	delete(c.battery, l.id)
	c.mu.Unlock()
	if !known {
		return nil
	}
	return c.send(protocol.MarshalRemoveBatteryStatusListener(l.id))
}

// DeleteButton erases the daemon's pairing record for addr. The daemon
// answers with a button deleted event.
func (c *Client) DeleteButton(addr protocol.ButtonAddress) error {
	payload, err := protocol.MarshalDeleteButton(addr)
	if err != nil {
		return err
	}
	return c.send(payload)
}

func (c *Client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, payload)
}

func (c *Client) readLoop() {
	for {
		payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			c.shutdown(err)
			return
		}
		ev, err := protocol.UnmarshalEvent(payload)
		if err != nil {
			var unknown *protocol.UnknownEventError
			if errors.As(err, &unknown) {
				slog.Debug("[flic] ignoring unknown event", "opcode", unknown.Opcode)
				continue
			}
			c.shutdown(err)
			return
		}
		c.dispatch(ev)
	}
}

// dispatch routes one event to its registered object. Runs only on the
// read loop goroutine.
func (c *Client) dispatch(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.AdvertisementPacket:
		if s := c.scanner(ev.ScanID); s != nil {
			s.HandleAdvertisement(ev)
		}
	case protocol.CreateConnectionChannelResponse:
		c.mu.Lock()
		ch := c.channels[ev.ConnID]
		if ev.Error != protocol.NoError {
			// The daemon did not keep the channel.
			delete(c.channels, ev.ConnID)
		}
		c.mu.Unlock()
		if ch != nil {
			ch.HandleCreateResponse(ev.Error, ev.Status)
		}
	case protocol.ConnectionStatusChanged:
		if ch := c.channel(ev.ConnID); ch != nil {
			ch.HandleStatusChanged(ev.Status, ev.DisconnectReason)
		}
	case protocol.ConnectionChannelRemoved:
		c.mu.Lock()
		ch := c.channels[ev.ConnID]
		delete(c.channels, ev.ConnID)
		c.mu.Unlock()
		if ch != nil {
			ch.HandleRemoved(ev.Reason)
		}
	case protocol.ButtonEvent:
		if ch := c.channel(ev.ConnID); ch != nil {
			ch.HandleButtonEvent(ev)
		}
	case protocol.BatteryStatus:
		c.mu.Lock()
		l := c.battery[ev.ListenerID]
		c.mu.Unlock()
		if l != nil {
			l.HandleStatus(ev.Percentage, ev.Timestamp)
		}
	case protocol.GetInfoResponse:
		c.mu.Lock()
		waiters := c.infoWait
		c.infoWait = nil
		c.mu.Unlock()
		for _, w := range waiters {
			w <- ev
		}
	case protocol.NewVerifiedButton:
		slog.Debug("[flic] button verified", "address", ev.Addr)
	case protocol.ButtonDeleted:
		slog.Debug("[flic] button deleted", "address", ev.Addr, "byThisClient", ev.DeletedByThisClient)
	case protocol.NoSpaceForNewConnection:
		slog.Warn("[flic] daemon has no space for new connections", "maxConcurrent", ev.MaxConcurrentlyConnected)
	case protocol.GotSpaceForNewConnection:
		slog.Info("[flic] daemon has space for new connections again")
	case protocol.BluetoothControllerStateChange:
		slog.Info("[flic] bluetooth controller state changed", "state", ev.State)
	}
}

func (c *Client) channel(id uint32) *ConnectionChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[id]
}

func (c *Client) scanner(id uint32) *Scanner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanners[id]
}

func (c *Client) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	onClose := c.onClose
	c.mu.Unlock()

	c.conn.Close()
	if onClose != nil {
		onClose(err)
	}
}
