// File: api/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport Gateway boundary: the primitive socket surface the registry and
// the dispatch loop are built on. Implementations live under gateway/.

package api

import (
	"errors"
	"fmt"
	"time"
)

// Handle is an opaque endpoint reference issued by a Gateway.
// Callers never interpret it, they only pass it back.
type Handle int32

// InvalidHandle is never issued by a gateway.
const InvalidHandle Handle = -1

// Status mirrors the numeric result codes of the native bridge so that
// diagnostics stay comparable across gateways.
type Status int

const (
	StatusOK               Status = 0
	StatusNoMessage        Status = 1
	StatusErrInit          Status = -1
	StatusErrSocket        Status = -2
	StatusErrBind          Status = -3
	StatusErrConnect       Status = -4
	StatusErrSend          Status = -5
	StatusErrReceive       Status = -6
	StatusErrInvalidSocket Status = -7
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoMessage:
		return "no message"
	case StatusErrInit:
		return "init error"
	case StatusErrSocket:
		return "socket error"
	case StatusErrBind:
		return "bind error"
	case StatusErrConnect:
		return "connect error"
	case StatusErrSend:
		return "send error"
	case StatusErrReceive:
		return "receive error"
	case StatusErrInvalidSocket:
		return "invalid socket"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Gateway errors with a fixed meaning for the dispatch loop.
var (
	// ErrNoMessage is returned by Receive when nothing is pending.
	// It is an absence signal, not a failure.
	ErrNoMessage = errors.New("no message available")
	// ErrInvalidHandle is returned for unknown or already closed handles.
	ErrInvalidHandle = errors.New("invalid socket handle")
	// ErrGatewayClosed is returned after Shutdown.
	ErrGatewayClosed = errors.New("gateway is shut down")
)

// GatewayError carries the native status code of a failed gateway call.
type GatewayError struct {
	Status Status
	Op     string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewGatewayError wraps err with op and status.
func NewGatewayError(status Status, op string, err error) *GatewayError {
	return &GatewayError{Status: status, Op: op, Err: err}
}

// StatusOf maps err to a native status code.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Status
	}
	switch {
	case errors.Is(err, ErrNoMessage):
		return StatusNoMessage
	case errors.Is(err, ErrInvalidHandle):
		return StatusErrInvalidSocket
	case errors.Is(err, ErrGatewayClosed):
		return StatusErrInit
	}
	return StatusErrSocket
}

// Gateway is the primitive socket surface of an external messaging engine.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Create opens a new endpoint and returns its handle.
	Create(spec EndpointSpec) (Handle, error)

	// Send writes one single-frame message.
	Send(h Handle, data []byte) error

	// Publish writes a topic frame followed by a payload frame.
	// Only meaningful for Publisher endpoints.
	Publish(h Handle, topic string, data []byte) error

	// Receive copies one pending message into buf without blocking and returns
	// the number of bytes written. Messages larger than buf are truncated.
	// Returns ErrNoMessage when nothing is pending.
	Receive(h Handle, buf []byte) (int, error)

	// Poll reports whether a message is pending, waiting up to timeout.
	// A zero timeout never blocks.
	Poll(h Handle, timeout time.Duration) (bool, error)

	// Close releases the handle. Closing an unknown handle returns ErrInvalidHandle.
	Close(h Handle) error

	// LastError returns the most recent human readable diagnostic.
	LastError() string
}
