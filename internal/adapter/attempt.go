package adapter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/freaktechnik/flic-button-adapter/internal/flic"
	"github.com/freaktechnik/flic-button-adapter/internal/flic/protocol"
)

// attemptState tracks how far a connection attempt has come before it
// resolves.
type attemptState int

const (
	attemptInitiated attemptState = iota
	attemptWaitingForResponse
)

// signalKind identifies which of the three racing channel callbacks
// produced a signal.
type signalKind int

const (
	signalResponse signalKind = iota
	signalStatus
	signalRemoved
)

type signal struct {
	kind        signalKind
	createError protocol.CreateConnectionError
	status      protocol.ConnectionStatus
	reason      protocol.RemovedReason
}

// connect drives one connection attempt for addr to a terminal
// outcome. The caller must have reserved addr via PendingSet.TryBegin;
// the reservation is released on every exit path, as are the channel
// subscriptions, so no signal is observed after resolution.
//
// On success the returned channel is live and Ready, and ownership
// passes to the caller. On failure the channel has been released back
// to the daemon and the error is one of ErrRejected, ErrTimeout or
// RemovedError.
func connect(client DaemonClient, pending *PendingSet, addr protocol.ButtonAddress, timeout time.Duration) (*flic.ConnectionChannel, error) {
	ch := flic.NewConnectionChannel(addr)

	// The three callbacks race; whichever signal is consumed first
	// wins. The channel is buffered so callbacks never block the
	// client's dispatch loop.
	sigs := make(chan signal, 8)
	post := func(s signal) {
		select {
		case sigs <- s:
		default:
		}
	}
	ch.OnCreateResponse(func(errCode protocol.CreateConnectionError, status protocol.ConnectionStatus) {
		post(signal{kind: signalResponse, createError: errCode, status: status})
	})
	ch.OnStatusChanged(func(status protocol.ConnectionStatus, _ protocol.DisconnectReason) {
		post(signal{kind: signalStatus, status: status})
	})
	ch.OnRemoved(func(reason protocol.RemovedReason) {
		post(signal{kind: signalRemoved, reason: reason})
	})

	defer func() {
		ch.ClearHandlers()
		pending.End(addr)
	}()

	// Armed for the whole attempt so that a button that never answers
	// at all still times out.
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := client.AddConnectionChannel(ch); err != nil {
		return nil, fmt.Errorf("adapter: submit channel for %s: %w", addr, err)
	}

	fail := func(err error) (*flic.ConnectionChannel, error) {
		// Idempotent if the daemon already dropped the channel.
		if rerr := client.RemoveConnectionChannel(ch); rerr != nil {
			slog.Debug("[adapter] releasing failed channel", "address", addr, "error", rerr)
		}
		slog.Warn("[adapter] connection attempt failed", "address", addr, "error", err)
		return nil, err
	}

	state := attemptInitiated
	timerC := timer.C
	for {
		select {
		case s := <-sigs:
			switch s.kind {
			case signalResponse:
				if s.createError != protocol.NoError {
					return fail(ErrRejected)
				}
				if s.status == protocol.StatusReady {
					// Verified by a concurrent actor between discovery
					// and this attempt.
					return ch, nil
				}
				state = attemptWaitingForResponse
			case signalStatus:
				if s.status == protocol.StatusReady {
					return ch, nil
				}
				// Connected-but-not-verified and transient disconnects
				// are not terminal; keep waiting.
			case signalRemoved:
				if s.reason == protocol.RemovedByThisClient {
					// Echo of our own deadline-triggered removal.
					return fail(ErrTimeout)
				}
				return fail(&RemovedError{Reason: s.reason})
			}
		case <-timerC:
			// The removal below echoes back as RemovedByThisClient,
			// which performs the actual resolution.
			timerC = nil
			slog.Debug("[adapter] attempt deadline reached, removing channel",
				"address", addr, "state", state)
			if err := client.RemoveConnectionChannel(ch); err != nil {
				return nil, fmt.Errorf("adapter: remove timed out channel for %s: %w", addr, err)
			}
		}
	}
}
