package adapter

import (
	"context"
	"sync"
	"testing"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
	"github.com/freaktechnik/flic-button-adapter/internal/gateway"
)

// mockClient records every command and lets tests inject daemon events
// through the channel/scanner Handle methods.
type mockClient struct {
	mu               sync.Mutex
	info             protocol.GetInfoResponse
	channels         []*flic.ConnectionChannel
	removedChannels  []*flic.ConnectionChannel
	scanners         []*flic.Scanner
	removedScanners  []*flic.Scanner
	listeners        []*flic.BatteryListener
	removedListeners []*flic.BatteryListener
	deleted          []protocol.ButtonAddress
	closed           bool

	addChannelErr error
	// echoRemoval makes RemoveConnectionChannel behave like the real
	// daemon: the removal is confirmed by a removed event.
	echoRemoval bool

	channelAdded chan *flic.ConnectionChannel
}

func newMockClient() *mockClient {
	return &mockClient{
		channelAdded: make(chan *flic.ConnectionChannel, 16),
	}
}

func (m *mockClient) GetInfo(_ context.Context) (*protocol.GetInfoResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.info
	return &info, nil
}

func (m *mockClient) AddConnectionChannel(ch *flic.ConnectionChannel) error {
	m.mu.Lock()
	err := m.addChannelErr
	if err == nil {
		m.channels = append(m.channels, ch)
	}
	m.mu.Unlock()
	if err == nil {
		m.channelAdded <- ch
	}
	return err
}

func (m *mockClient) RemoveConnectionChannel(ch *flic.ConnectionChannel) error {
	m.mu.Lock()
	m.removedChannels = append(m.removedChannels, ch)
	echo := m.echoRemoval
	m.mu.Unlock()
	if echo {
		ch.HandleRemoved(protocol.RemovedByThisClient)
	}
	return nil
}

func (m *mockClient) AddScanner(s *flic.Scanner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanners = append(m.scanners, s)
	return nil
}

func (m *mockClient) RemoveScanner(s *flic.Scanner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedScanners = append(m.removedScanners, s)
	return nil
}

func (m *mockClient) AddBatteryListener(l *flic.BatteryListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
	return nil
}

func (m *mockClient) RemoveBatteryListener(l *flic.BatteryListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removedListeners = append(m.removedListeners, l)
	return nil
}

func (m *mockClient) DeleteButton(addr protocol.ButtonAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, addr)
	return nil
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockClient) channelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

func (m *mockClient) removedChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.removedChannels)
}

func (m *mockClient) latestScanner() *flic.Scanner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.scanners) == 0 {
		return nil
	}
	return m.scanners[len(m.scanners)-1]
}

func (m *mockClient) latestListener() *flic.BatteryListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listeners) == 0 {
		return nil
	}
	return m.listeners[len(m.listeners)-1]
}

// recorderGateway records everything published to the gateway.
type recorderGateway struct {
	mu         sync.Mutex
	added      []gateway.Description
	removed    []string
	properties []propertyChange
	events     []deviceEvent
}

type propertyChange struct {
	address  string
	property string
	value    any
}

type deviceEvent struct {
	address string
	event   string
}

func (g *recorderGateway) RegisterDevice(d gateway.Description) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.added = append(g.added, d)
}

func (g *recorderGateway) UnregisterDevice(address string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removed = append(g.removed, address)
}

func (g *recorderGateway) PropertyChanged(address, property string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.properties = append(g.properties, propertyChange{address, property, value})
}

func (g *recorderGateway) EmitEvent(address, event string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, deviceEvent{address, event})
}

func (g *recorderGateway) lastProperty(t *testing.T) propertyChange {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.properties) == 0 {
		t.Fatal("no property changes recorded")
	}
	return g.properties[len(g.properties)-1]
}

func TestMockClientImplementsInterface(t *testing.T) {
	var _ DaemonClient = (*mockClient)(nil)
}

func TestRecorderGatewayImplementsInterface(t *testing.T) {
	var _ gateway.Handler = (*recorderGateway)(nil)
}
