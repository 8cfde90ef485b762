// Package lberr defines the error kinds observed at sidelb's boundary.
// An error built with New carries one of these kinds and wraps the
// underlying error, so callers can classify a failure with
// errors.Is/errors.As or KindOf without string-matching log output.
// Errors not built with New carry no kind.
package lberr

import "fmt"

// Kind tags an error with the boundary condition that produced it.
type Kind string

const (
	// BadInput marks a malformed bind address, resolver label, mode, or
	// protocol. Fatal at startup.
	BadInput Kind = "bad_input"
	// NoBackends marks an empty registry at the end of startup with no
	// dynamic source configured. Fatal at startup.
	NoBackends Kind = "no_backends"
	// ResolveFailure marks a resolver call that errored or returned no
	// addresses. Non-fatal; logged, retried on the next cycle.
	ResolveFailure Kind = "resolve_failure"
	// ProbeFailure marks a backend that failed its health probe.
	// Non-fatal; removes the backend from the active view.
	ProbeFailure Kind = "probe_failure"
	// DialFailure marks a forwarder's failed outbound dial.
	DialFailure Kind = "dial_failure"
	// CopyFailure marks a stream forwarder copy goroutine ending in error.
	CopyFailure Kind = "copy_failure"
	// SendFailure marks a datagram forwarder send to the backend failing.
	SendFailure Kind = "send_failure"
	// RecvTimeout marks a datagram forwarder's bounded wait for a
	// backend response expiring.
	RecvTimeout Kind = "recv_timeout"
	// ProtocolMismatch marks a selected backend whose protocol differs
	// from the listener's protocol.
	ProtocolMismatch Kind = "protocol_mismatch"
	// ControlBindFailure marks a failure to bind the control socket.
	// Logged loudly; does not terminate the data plane.
	ControlBindFailure Kind = "control_bind_failure"
)

// Error is a Kind-tagged error. errors.Is matches on Kind equality so
// callers can write `errors.Is(err, lberr.New(lberr.ProbeFailure, "", nil))`
// or, more simply, compare via lberr.KindOf.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is implements errors.Is against a target *Error compared by Kind only,
// so a caller can probe with &Error{Kind: lberr.ProbeFailure}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf unwraps err looking for an *Error and returns its Kind, or ""
// if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if le, ok := err.(*Error); ok {
			e = le
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}
