package adapter

import (
	"errors"
	"fmt"

	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

// Failure modes of a single connection attempt. All of them are
// recoverable: the attempt is logged and the button can be paired
// again later.
var (
	// ErrRejected means the daemon refused the channel because too
	// many connections were already pending.
	ErrRejected = errors.New("adapter: connection rejected, too many pending connections")

	// ErrTimeout means no terminal signal arrived within the attempt
	// deadline.
	ErrTimeout = errors.New("adapter: connection attempt timed out")
)

// RemovedError means the daemon or the button itself dropped the
// channel while the attempt was still pending.
type RemovedError struct {
	Reason protocol.RemovedReason
}

func (e *RemovedError) Error() string {
	return fmt.Sprintf("adapter: connection removed externally: %s", e.Reason)
}
