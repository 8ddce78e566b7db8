// Package message defines the envelope exchanged between RPC peers.
//
// Envelope is the wire unit for every call. It is serialized by the codec layer
// and carried by a channel adapter (broadcast, iframe, websocket, stream).
//
//   - On request:  ID, Method and Args are set.
//   - On response: ID matches the request, Result is set, or Error if the call failed.
//   - On event:    like a request, but the receiver never answers.
//
// Protocol messages share the envelope shape but only carry a Type that starts
// with ProtocolPrefix.
package message

import "strings"

// MsgType distinguishes requests, responses, events and protocol messages.
type MsgType string

const (
	MsgTypeRequest  MsgType = "request"
	MsgTypeResponse MsgType = "response"
	MsgTypeEvent    MsgType = "event"
)

// ProtocolPrefix is shared by every side-channel protocol message type.
const ProtocolPrefix = "__REACT_DEVTOOLS_"

// InstallComponentTreeHook asks the parent context to install the tree instrumentation hook.
const InstallComponentTreeHook MsgType = ProtocolPrefix + "INSTALL_COMPONENT_TREE_HOOK__"

// Error kinds carried in ErrorInfo.Name.
const (
	ErrorNoSuchRemoteFunction = "NoSuchRemoteFunction"
	ErrorRemoteThrew          = "RemoteThrew"
	ErrorTimeout              = "Timeout"
)

// ErrorInfo is the failure half of a response. Only the message and the error
// kind cross the boundary; stack traces stay with the peer that raised them.
type ErrorInfo struct {
	Message string
	Name    string
}

// Envelope carries the data for a single request, response, event or protocol message.
type Envelope struct {
	ID     string  // Correlation id, unique per outstanding call on a channel
	Type   MsgType // request | response | event | protocol type
	Method string  // Target function name (request, event)
	Args   []any   // Positional arguments (request, event)
	Result any     // Return value (response)
	Error  *ErrorInfo
}

// IsRequest reports whether env expects a response.
func (env *Envelope) IsRequest() bool { return env != nil && env.Type == MsgTypeRequest }

// IsResponse reports whether env answers an earlier request.
func (env *Envelope) IsResponse() bool { return env != nil && env.Type == MsgTypeResponse }

// IsEvent reports whether env is a one-way call.
func (env *Envelope) IsEvent() bool { return env != nil && env.Type == MsgTypeEvent }

// IsProtocolMessage reports whether env belongs to the side-channel protocol.
// Any type with the protocol prefix is accepted, not only the known literals.
func IsProtocolMessage(env *Envelope) bool {
	return env != nil && strings.HasPrefix(string(env.Type), ProtocolPrefix)
}

// NewProtocolMessage builds a payload-less protocol message of the given type.
func NewProtocolMessage(t MsgType) *Envelope {
	return &Envelope{Type: t}
}

// NewResponse answers the request with the given id.
func NewResponse(id string, result any) *Envelope {
	return &Envelope{ID: id, Type: MsgTypeResponse, Result: result}
}

// NewErrorResponse answers the request with the given id with a failure of kind name.
func NewErrorResponse(id, name, msg string) *Envelope {
	return &Envelope{ID: id, Type: MsgTypeResponse, Error: &ErrorInfo{Name: name, Message: msg}}
}
