// Package protocol implements the binary framing of the fliclib daemon
// socket protocol: little-endian fields behind a 2-byte length prefix,
// with a 1-byte opcode selecting the command or event.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Command opcodes (client to daemon).
const (
	CmdGetInfo                     uint8 = 0
	CmdCreateScanner               uint8 = 1
	CmdRemoveScanner               uint8 = 2
	CmdCreateConnectionChannel     uint8 = 3
	CmdRemoveConnectionChannel     uint8 = 4
	CmdDeleteButton                uint8 = 11
	CmdCreateBatteryStatusListener uint8 = 12
	CmdRemoveBatteryStatusListener uint8 = 13
)

// Event opcodes (daemon to client).
const (
	EvtAdvertisementPacket              uint8 = 0
	EvtCreateConnectionChannelResponse  uint8 = 1
	EvtConnectionStatusChanged          uint8 = 2
	EvtConnectionChannelRemoved         uint8 = 3
	EvtButtonUpOrDown                   uint8 = 4
	EvtButtonClickOrHold                uint8 = 5
	EvtButtonSingleOrDoubleClick        uint8 = 6
	EvtButtonSingleOrDoubleClickOrHold  uint8 = 7
	EvtNewVerifiedButton                uint8 = 8
	EvtGetInfoResponse                  uint8 = 9
	EvtNoSpaceForNewConnection          uint8 = 10
	EvtGotSpaceForNewConnection         uint8 = 11
	EvtBluetoothControllerStateChange   uint8 = 12
	EvtButtonDeleted                    uint8 = 19
	EvtBatteryStatus                    uint8 = 20
)

// CreateConnectionError is the error field of a create connection
// channel response.
type CreateConnectionError uint8

const (
	NoError                      CreateConnectionError = 0
	MaxPendingConnectionsReached CreateConnectionError = 1
)

func (e CreateConnectionError) String() string {
	switch e {
	case NoError:
		return "NoError"
	case MaxPendingConnectionsReached:
		return "MaxPendingConnectionsReached"
	default:
		return fmt.Sprintf("CreateConnectionError(%d)", uint8(e))
	}
}

// ConnectionStatus describes how far a connection channel has come.
// Ready means the button is verified and delivering events.
type ConnectionStatus uint8

const (
	StatusDisconnected ConnectionStatus = 0
	StatusConnected    ConnectionStatus = 1
	StatusReady        ConnectionStatus = 2
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnected:
		return "Connected"
	case StatusReady:
		return "Ready"
	default:
		return fmt.Sprintf("ConnectionStatus(%d)", uint8(s))
	}
}

// DisconnectReason accompanies a status change back to Disconnected.
type DisconnectReason uint8

const (
	DisconnectUnspecified          DisconnectReason = 0
	DisconnectEstablishmentFailed  DisconnectReason = 1
	DisconnectTimedOut             DisconnectReason = 2
	DisconnectBondingKeysMismatch  DisconnectReason = 3
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectUnspecified:
		return "Unspecified"
	case DisconnectEstablishmentFailed:
		return "ConnectionEstablishmentFailed"
	case DisconnectTimedOut:
		return "TimedOut"
	case DisconnectBondingKeysMismatch:
		return "BondingKeysMismatch"
	default:
		return fmt.Sprintf("DisconnectReason(%d)", uint8(r))
	}
}

// RemovedReason explains why a connection channel was removed.
// RemovedByThisClient is the echo of our own remove command.
type RemovedReason uint8

const (
	RemovedByThisClient            RemovedReason = 0
	ForceDisconnectedByThisClient  RemovedReason = 1
	ForceDisconnectedByOtherClient RemovedReason = 2
	ButtonIsPrivate                RemovedReason = 3
	VerifyTimeout                  RemovedReason = 4
	InternetBackendError           RemovedReason = 5
	InvalidData                    RemovedReason = 6
	CouldntLoadDevice              RemovedReason = 7
	DeletedByThisClient            RemovedReason = 8
	DeletedByOtherClient           RemovedReason = 9
	ButtonBelongsToOtherPartner    RemovedReason = 10
	DeletedFromButton              RemovedReason = 11
)

func (r RemovedReason) String() string {
	switch r {
	case RemovedByThisClient:
		return "RemovedByThisClient"
	case ForceDisconnectedByThisClient:
		return "ForceDisconnectedByThisClient"
	case ForceDisconnectedByOtherClient:
		return "ForceDisconnectedByOtherClient"
	case ButtonIsPrivate:
		return "ButtonIsPrivate"
	case VerifyTimeout:
		return "VerifyTimeout"
	case InternetBackendError:
		return "InternetBackendError"
	case InvalidData:
		return "InvalidData"
	case CouldntLoadDevice:
		return "CouldntLoadDevice"
	case DeletedByThisClient:
		return "DeletedByThisClient"
	case DeletedByOtherClient:
		return "DeletedByOtherClient"
	case ButtonBelongsToOtherPartner:
		return "ButtonBelongsToOtherPartner"
	case DeletedFromButton:
		return "DeletedFromButton"
	default:
		return fmt.Sprintf("RemovedReason(%d)", uint8(r))
	}
}

// ClickType is the kind of button interaction reported by an event.
type ClickType uint8

const (
	ButtonDown        ClickType = 0
	ButtonUp          ClickType = 1
	ButtonClick       ClickType = 2
	ButtonSingleClick ClickType = 3
	ButtonDoubleClick ClickType = 4
	ButtonHold        ClickType = 5
)

func (c ClickType) String() string {
	switch c {
	case ButtonDown:
		return "ButtonDown"
	case ButtonUp:
		return "ButtonUp"
	case ButtonClick:
		return "ButtonClick"
	case ButtonSingleClick:
		return "ButtonSingleClick"
	case ButtonDoubleClick:
		return "ButtonDoubleClick"
	case ButtonHold:
		return "ButtonHold"
	default:
		return fmt.Sprintf("ClickType(%d)", uint8(c))
	}
}

// LatencyMode selects the connection parameters for a channel.
type LatencyMode uint8

const (
	LatencyNormal LatencyMode = 0
	LatencyLow    LatencyMode = 1
	LatencyHigh   LatencyMode = 2
)

// BluetoothControllerState reports the state of the daemon's HCI
// controller.
type BluetoothControllerState uint8

const (
	ControllerDetached  BluetoothControllerState = 0
	ControllerResetting BluetoothControllerState = 1
	ControllerAttached  BluetoothControllerState = 2
)

// ButtonAddress is a button's Bluetooth address in the canonical
// lowercase "xx:xx:xx:xx:xx:xx" form. On the wire it is six bytes in
// reversed order.
type ButtonAddress string

// addressWireSize is the encoded size of a ButtonAddress.
const addressWireSize = 6

// appendAddress encodes addr onto buf in wire order.
func appendAddress(buf []byte, addr ButtonAddress) ([]byte, error) {
	parts := strings.Split(string(addr), ":")
	if len(parts) != addressWireSize {
		return nil, fmt.Errorf("protocol: invalid button address %q", addr)
	}
	for i := addressWireSize - 1; i >= 0; i-- {
		if len(parts[i]) != 2 {
			return nil, fmt.Errorf("protocol: invalid button address %q", addr)
		}
		hi, err := hexNibble(parts[i][0])
		if err != nil {
			return nil, fmt.Errorf("protocol: invalid button address %q", addr)
		}
		lo, err := hexNibble(parts[i][1])
		if err != nil {
			return nil, fmt.Errorf("protocol: invalid button address %q", addr)
		}
		buf = append(buf, hi<<4|lo)
	}
	return buf, nil
}

// readAddress decodes six wire-order bytes into a ButtonAddress.
func readAddress(data []byte) ButtonAddress {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, addressWireSize*3-1)
	for i := addressWireSize - 1; i >= 0; i-- {
		if len(out) > 0 {
			out = append(out, ':')
		}
		out = append(out, hexdigits[data[i]>>4], hexdigits[data[i]&0x0f])
	}
	return ButtonAddress(out)
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	}
	return 0, errors.New("protocol: not a hex digit")
}

// WriteFrame writes one length-prefixed packet. The payload must
// already start with the opcode byte.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > 0xffff {
		return fmt.Errorf("protocol: packet too large (%d bytes)", len(payload))
	}
	frame := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed packet, returning the payload
// including its opcode byte.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint16(header[:])
	if length == 0 {
		return nil, errors.New("protocol: zero-length frame")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: short frame: %w", err)
	}
	return payload, nil
}
