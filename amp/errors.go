package amp

import (
	"errors"
	"fmt"
)

// ErrConnectionLost is reported to pending asks when the transport closes
// before their answer arrives.
var ErrConnectionLost = errors.New("amp: connection lost")

// ProtocolError reports a malformed frame. It is connection-fatal: the side
// that detects it tears the transport down.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("amp: protocol error: %s: %v", e.Reason, e.Err)
	}
	return "amp: protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Error codes carried in _error_code.
const (
	// CodeUnhandled means the receiving dispatcher has no handler for the
	// requested command.
	CodeUnhandled = "UNHANDLED"

	// CodeUnknown means the handler failed; the description carries the
	// handler's error text.
	CodeUnknown = "UNKNOWN"
)

// RemoteError is a command-level failure reported by the far side. The
// connection stays usable after one.
type RemoteError struct {
	Code        string
	Description string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("amp: remote error %s: %s", e.Code, e.Description)
}
