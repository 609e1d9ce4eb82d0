package relay

import (
	"fmt"
)

// FaultKind separates "could not reach the relay" from "the relay answered
// with an error". The kind only changes alert text, never control flow.
type FaultKind int

const (
	FaultTransport FaultKind = iota + 1
	FaultApplication
)

func (k FaultKind) String() string {
	switch k {
	case FaultTransport:
		return "transport"
	case FaultApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Fault is the error returned by every Client call that fails.
type Fault struct {
	Kind    FaultKind
	Op      string
	Message string
	// Unreachable is set when the connection itself could not be established.
	Unreachable bool
	Err         error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s %s fault: %s: %v", f.Op, f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s %s fault: %s", f.Op, f.Kind, f.Message)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
