package flic

import (
	"sync"

	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

// ConnectionChannel is the daemon-side handle for reaching one button.
// Callbacks are invoked serially from the client's read loop; Handle*
// methods exist so tests can inject events without a daemon.
type ConnectionChannel struct {
	addr protocol.ButtonAddress
	id   uint32 // assigned by the client on AddConnectionChannel

	mu               sync.Mutex
	onCreateResponse func(protocol.CreateConnectionError, protocol.ConnectionStatus)
	onStatusChanged  func(protocol.ConnectionStatus, protocol.DisconnectReason)
	onRemoved        func(protocol.RemovedReason)
	onButtonUpOrDown func(protocol.ClickType, bool, uint32)
	onButtonClick    func(protocol.ClickType, bool, uint32)
}

// NewConnectionChannel creates an unregistered channel for addr.
func NewConnectionChannel(addr protocol.ButtonAddress) *ConnectionChannel {
	return &ConnectionChannel{addr: addr}
}

// Addr returns the button address the channel targets.
func (ch *ConnectionChannel) Addr() protocol.ButtonAddress {
	return ch.addr
}

// OnCreateResponse registers the callback for the create response.
func (ch *ConnectionChannel) OnCreateResponse(fn func(protocol.CreateConnectionError, protocol.ConnectionStatus)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onCreateResponse = fn
}

// OnStatusChanged registers the callback for connection status changes.
func (ch *ConnectionChannel) OnStatusChanged(fn func(protocol.ConnectionStatus, protocol.DisconnectReason)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onStatusChanged = fn
}

// OnRemoved registers the callback for channel removal.
func (ch *ConnectionChannel) OnRemoved(fn func(protocol.RemovedReason)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onRemoved = fn
}

// OnButtonUpOrDown registers the callback for the raw up/down stream.
func (ch *ConnectionChannel) OnButtonUpOrDown(fn func(protocol.ClickType, bool, uint32)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onButtonUpOrDown = fn
}

// OnButtonClick registers the callback for the interpreted click
// streams (click/hold, single/double click).
func (ch *ConnectionChannel) OnButtonClick(fn func(protocol.ClickType, bool, uint32)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onButtonClick = fn
}

// ClearHandlers detaches every callback at once. Events dispatched
// afterwards go nowhere.
func (ch *ConnectionChannel) ClearHandlers() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onCreateResponse = nil
	ch.onStatusChanged = nil
	ch.onRemoved = nil
	ch.onButtonUpOrDown = nil
	ch.onButtonClick = nil
}

// HandleCreateResponse delivers a create response to the channel.
func (ch *ConnectionChannel) HandleCreateResponse(err protocol.CreateConnectionError, status protocol.ConnectionStatus) {
	ch.mu.Lock()
	fn := ch.onCreateResponse
	ch.mu.Unlock()
	if fn != nil {
		fn(err, status)
	}
}

// HandleStatusChanged delivers a status change to the channel.
func (ch *ConnectionChannel) HandleStatusChanged(status protocol.ConnectionStatus, reason protocol.DisconnectReason) {
	ch.mu.Lock()
	fn := ch.onStatusChanged
	ch.mu.Unlock()
	if fn != nil {
		fn(status, reason)
	}
}

// HandleRemoved delivers a removal notification to the channel.
func (ch *ConnectionChannel) HandleRemoved(reason protocol.RemovedReason) {
	ch.mu.Lock()
	fn := ch.onRemoved
	ch.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// HandleButtonEvent delivers a button event from one of the four
// button streams.
func (ch *ConnectionChannel) HandleButtonEvent(ev protocol.ButtonEvent) {
	ch.mu.Lock()
	var fn func(protocol.ClickType, bool, uint32)
	if ev.Opcode == protocol.EvtButtonUpOrDown {
		fn = ch.onButtonUpOrDown
	} else {
		fn = ch.onButtonClick
	}
	ch.mu.Unlock()
	if fn != nil {
		fn(ev.Click, ev.WasQueued, ev.TimeDiff)
	}
}

// Scanner receives advertisement packets while registered with the
// client.
type Scanner struct {
	id uint32

	mu              sync.Mutex
	onAdvertisement func(protocol.AdvertisementPacket)
}

// NewScanner creates an unregistered scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// OnAdvertisement registers the advertisement callback.
func (s *Scanner) OnAdvertisement(fn func(protocol.AdvertisementPacket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdvertisement = fn
}

// HandleAdvertisement delivers one advertisement to the scanner.
func (s *Scanner) HandleAdvertisement(adv protocol.AdvertisementPacket) {
	s.mu.Lock()
	fn := s.onAdvertisement
	s.mu.Unlock()
	if fn != nil {
		fn(adv)
	}
}

// BatteryListener receives battery reports for one button.
type BatteryListener struct {
	addr protocol.ButtonAddress
	id   uint32

	mu       sync.Mutex
	onStatus func(percentage int8, timestamp uint64)
}

// NewBatteryListener creates an unregistered listener for addr.
func NewBatteryListener(addr protocol.ButtonAddress) *BatteryListener {
	return &BatteryListener{addr: addr}
}

// Addr returns the button address the listener watches.
func (l *BatteryListener) Addr() protocol.ButtonAddress {
	return l.addr
}

// OnStatus registers the battery status callback.
func (l *BatteryListener) OnStatus(fn func(int8, uint64)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = fn
}

// HandleStatus delivers one battery report to the listener.
func (l *BatteryListener) HandleStatus(percentage int8, timestamp uint64) {
	l.mu.Lock()
	fn := l.onStatus
	l.mu.Unlock()
	if fn != nil {
		fn(percentage, timestamp)
	}
}
