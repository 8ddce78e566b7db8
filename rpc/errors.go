package rpc

import (
	"errors"
	"fmt"

	"devtools-rpc/message"
)

var (
	// ErrNoSuchRemoteFunction matches failures where the peer has no function
	// registered under the called name.
	ErrNoSuchRemoteFunction = errors.New("rpc: no such remote function")
	// ErrRemoteThrew matches failures raised by the remote handler.
	ErrRemoteThrew = errors.New("rpc: remote function threw")
	// ErrTimeout matches calls that got no response within the configured timeout.
	ErrTimeout = errors.New("rpc: call timed out")
	// ErrAbandoned is the error of a call given up with Abandon.
	ErrAbandoned = errors.New("rpc: call abandoned")
	// ErrClosed is the error of calls pending on, or made after, Close.
	ErrClosed = errors.New("rpc: closed")
)

// RemoteError is a failure reported by the peer in a response envelope.
type RemoteError struct {
	Kind    string // one of the message.Error* kinds
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: %s: %s", e.Method, e.Message)
}

// Is lets errors.Is match a RemoteError against the sentinel of its kind.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNoSuchRemoteFunction:
		return e.Kind == message.ErrorNoSuchRemoteFunction
	case ErrRemoteThrew:
		return e.Kind == message.ErrorRemoteThrew
	case ErrTimeout:
		return e.Kind == message.ErrorTimeout
	}
	return false
}

// errorKind names the wire kind for a local dispatch failure.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNoSuchRemoteFunction):
		return message.ErrorNoSuchRemoteFunction
	case errors.Is(err, ErrTimeout):
		return message.ErrorTimeout
	default:
		return message.ErrorRemoteThrew
	}
}
