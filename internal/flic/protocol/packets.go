package protocol

import (
	"encoding/binary"
	"fmt"
)

// MarshalGetInfo encodes a get info command.
func MarshalGetInfo() []byte {
	return []byte{CmdGetInfo}
}

// MarshalCreateScanner encodes a create scanner command.
func MarshalCreateScanner(scanID uint32) []byte {
	return appendUint32([]byte{CmdCreateScanner}, scanID)
}

// MarshalRemoveScanner encodes a remove scanner command.
func MarshalRemoveScanner(scanID uint32) []byte {
	return appendUint32([]byte{CmdRemoveScanner}, scanID)
}

// MarshalCreateConnectionChannel encodes a create connection channel
// command. autoDisconnectTime is in seconds; 511 disables the daemon's
// auto disconnect.
func MarshalCreateConnectionChannel(connID uint32, addr ButtonAddress, latency LatencyMode, autoDisconnectTime int16) ([]byte, error) {
	buf := appendUint32([]byte{CmdCreateConnectionChannel}, connID)
	buf, err := appendAddress(buf, addr)
	if err != nil {
		return nil, err
	}
	buf = append(buf, uint8(latency))
	buf = appendUint16(buf, uint16(autoDisconnectTime))
	return buf, nil
}

// MarshalRemoveConnectionChannel encodes a remove connection channel
// command.
func MarshalRemoveConnectionChannel(connID uint32) []byte {
	return appendUint32([]byte{CmdRemoveConnectionChannel}, connID)
}

// MarshalDeleteButton encodes a delete button command, erasing the
// daemon's pairing record for the address.
func MarshalDeleteButton(addr ButtonAddress) ([]byte, error) {
	return appendAddress([]byte{CmdDeleteButton}, addr)
}

// MarshalCreateBatteryStatusListener encodes a create battery status
// listener command.
func MarshalCreateBatteryStatusListener(listenerID uint32, addr ButtonAddress) ([]byte, error) {
	buf := appendUint32([]byte{CmdCreateBatteryStatusListener}, listenerID)
	return appendAddress(buf, addr)
}

// MarshalRemoveBatteryStatusListener encodes a remove battery status
// listener command.
func MarshalRemoveBatteryStatusListener(listenerID uint32) []byte {
	return appendUint32([]byte{CmdRemoveBatteryStatusListener}, listenerID)
}

// Event is implemented by all decoded daemon events.
type Event interface {
	event()
}

// AdvertisementPacket is a scan result forwarded to a scanner.
type AdvertisementPacket struct {
	ScanID                        uint32
	Addr                          ButtonAddress
	Name                          string
	RSSI                          int8
	IsPrivate                     bool
	AlreadyVerified               bool
	AlreadyConnectedToThisDevice  bool
	AlreadyConnectedToOtherDevice bool
}

// CreateConnectionChannelResponse acknowledges a create connection
// channel command.
type CreateConnectionChannelResponse struct {
	ConnID uint32
	Error  CreateConnectionError
	Status ConnectionStatus
}

// ConnectionStatusChanged reports a channel moving between
// Disconnected, Connected and Ready.
type ConnectionStatusChanged struct {
	ConnID           uint32
	Status           ConnectionStatus
	DisconnectReason DisconnectReason
}

// ConnectionChannelRemoved reports that a channel no longer exists on
// the daemon side.
type ConnectionChannelRemoved struct {
	ConnID uint32
	Reason RemovedReason
}

// ButtonEvent is a button interaction on one of the four button event
// streams; Opcode identifies the stream.
type ButtonEvent struct {
	Opcode    uint8
	ConnID    uint32
	Click     ClickType
	WasQueued bool
	TimeDiff  uint32 // seconds since the press if it was queued
}

// NewVerifiedButton announces that a button completed verification,
// possibly through another client.
type NewVerifiedButton struct {
	Addr ButtonAddress
}

// GetInfoResponse answers a get info command.
type GetInfoResponse struct {
	ControllerState           BluetoothControllerState
	MyAddr                    ButtonAddress
	MyAddrType                uint8
	MaxPendingConnections     uint8
	MaxConcurrentlyConnected  int16
	CurrentPendingConnections uint8
	NoSpaceForNewConnection   bool
	Verified                  []ButtonAddress
}

// NoSpaceForNewConnection reports the daemon hitting its concurrent
// connection limit.
type NoSpaceForNewConnection struct {
	MaxConcurrentlyConnected uint8
}

// GotSpaceForNewConnection reports the limit clearing again.
type GotSpaceForNewConnection struct {
	MaxConcurrentlyConnected uint8
}

// BluetoothControllerStateChange reports the HCI controller state.
type BluetoothControllerStateChange struct {
	State BluetoothControllerState
}

// ButtonDeleted acknowledges a delete button command or reports a
// deletion by someone else.
type ButtonDeleted struct {
	Addr                ButtonAddress
	DeletedByThisClient bool
}

// BatteryStatus is a battery level report for a listener.
type BatteryStatus struct {
	ListenerID uint32
	Percentage int8 // -1 when unknown
	Timestamp  uint64
}

func (AdvertisementPacket) event()             {}
func (CreateConnectionChannelResponse) event() {}
func (ConnectionStatusChanged) event()         {}
func (ConnectionChannelRemoved) event()        {}
func (ButtonEvent) event()                     {}
func (NewVerifiedButton) event()               {}
func (GetInfoResponse) event()                 {}
func (NoSpaceForNewConnection) event()         {}
func (GotSpaceForNewConnection) event()        {}
func (BluetoothControllerStateChange) event()  {}
func (ButtonDeleted) event()                   {}
func (BatteryStatus) event()                   {}

// UnknownEventError is returned for event opcodes this client does not
// decode.
type UnknownEventError struct {
	Opcode uint8
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("protocol: unknown event opcode %d", e.Opcode)
}

// UnmarshalEvent decodes an event payload (opcode byte included).
func UnmarshalEvent(data []byte) (Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("protocol: empty event")
	}
	opcode := data[0]
	body := data[1:]
	switch opcode {
	case EvtAdvertisementPacket:
		// scanID, addr, name length + 16 name bytes, rssi, 4 flags
		if err := need(body, 4+6+1+16+1+4, opcode); err != nil {
			return nil, err
		}
		nameLen := int(body[10])
		if nameLen > 16 {
			nameLen = 16
		}
		return AdvertisementPacket{
			ScanID:                        binary.LittleEndian.Uint32(body),
			Addr:                          readAddress(body[4:]),
			Name:                          string(body[11 : 11+nameLen]),
			RSSI:                          int8(body[27]),
			IsPrivate:                     body[28] != 0,
			AlreadyVerified:               body[29] != 0,
			AlreadyConnectedToThisDevice:  body[30] != 0,
			AlreadyConnectedToOtherDevice: body[31] != 0,
		}, nil
	case EvtCreateConnectionChannelResponse:
		if err := need(body, 6, opcode); err != nil {
			return nil, err
		}
		return CreateConnectionChannelResponse{
			ConnID: binary.LittleEndian.Uint32(body),
			Error:  CreateConnectionError(body[4]),
			Status: ConnectionStatus(body[5]),
		}, nil
	case EvtConnectionStatusChanged:
		if err := need(body, 6, opcode); err != nil {
			return nil, err
		}
		return ConnectionStatusChanged{
			ConnID:           binary.LittleEndian.Uint32(body),
			Status:           ConnectionStatus(body[4]),
			DisconnectReason: DisconnectReason(body[5]),
		}, nil
	case EvtConnectionChannelRemoved:
		if err := need(body, 5, opcode); err != nil {
			return nil, err
		}
		return ConnectionChannelRemoved{
			ConnID: binary.LittleEndian.Uint32(body),
			Reason: RemovedReason(body[4]),
		}, nil
	case EvtButtonUpOrDown, EvtButtonClickOrHold, EvtButtonSingleOrDoubleClick, EvtButtonSingleOrDoubleClickOrHold:
		if err := need(body, 10, opcode); err != nil {
			return nil, err
		}
		return ButtonEvent{
			Opcode:    opcode,
			ConnID:    binary.LittleEndian.Uint32(body),
			Click:     ClickType(body[4]),
			WasQueued: body[5] != 0,
			TimeDiff:  binary.LittleEndian.Uint32(body[6:]),
		}, nil
	case EvtNewVerifiedButton:
		if err := need(body, 6, opcode); err != nil {
			return nil, err
		}
		return NewVerifiedButton{Addr: readAddress(body)}, nil
	case EvtGetInfoResponse:
		if err := need(body, 1+6+1+1+2+1+1+2, opcode); err != nil {
			return nil, err
		}
		count := int(binary.LittleEndian.Uint16(body[13:]))
		if err := need(body, 15+count*addressWireSize, opcode); err != nil {
			return nil, err
		}
		verified := make([]ButtonAddress, 0, count)
		for i := 0; i < count; i++ {
			verified = append(verified, readAddress(body[15+i*addressWireSize:]))
		}
		return GetInfoResponse{
			ControllerState:           BluetoothControllerState(body[0]),
			MyAddr:                    readAddress(body[1:]),
			MyAddrType:                body[7],
			MaxPendingConnections:     body[8],
			MaxConcurrentlyConnected:  int16(binary.LittleEndian.Uint16(body[9:])),
			CurrentPendingConnections: body[11],
			NoSpaceForNewConnection:   body[12] != 0,
			Verified:                  verified,
		}, nil
	case EvtNoSpaceForNewConnection:
		if err := need(body, 1, opcode); err != nil {
			return nil, err
		}
		return NoSpaceForNewConnection{MaxConcurrentlyConnected: body[0]}, nil
	case EvtGotSpaceForNewConnection:
		if err := need(body, 1, opcode); err != nil {
			return nil, err
		}
		return GotSpaceForNewConnection{MaxConcurrentlyConnected: body[0]}, nil
	case EvtBluetoothControllerStateChange:
		if err := need(body, 1, opcode); err != nil {
			return nil, err
		}
		return BluetoothControllerStateChange{State: BluetoothControllerState(body[0])}, nil
	case EvtButtonDeleted:
		if err := need(body, 7, opcode); err != nil {
			return nil, err
		}
		return ButtonDeleted{
			Addr:                readAddress(body),
			DeletedByThisClient: body[6] != 0,
		}, nil
	case EvtBatteryStatus:
		if err := need(body, 4+1+8, opcode); err != nil {
			return nil, err
		}
		return BatteryStatus{
			ListenerID: binary.LittleEndian.Uint32(body),
			Percentage: int8(body[4]),
			Timestamp:  binary.LittleEndian.Uint64(body[5:]),
		}, nil
	default:
		return nil, &UnknownEventError{Opcode: opcode}
	}
}

func need(body []byte, n int, opcode uint8) error {
	if len(body) < n {
		return fmt.Errorf("protocol: event %d truncated: %d bytes, want %d", opcode, len(body), n)
	}
	return nil
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
