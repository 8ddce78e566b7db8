package codec

import (
	"errors"
	"fmt"

	"devtools-rpc/message"
)

// ErrNotEnvelope is returned when decoded data lacks the envelope shape.
var ErrNotEnvelope = errors.New("codec: not an envelope")

// EnvelopeValue converts env into the object form that goes on the wire.
// Fields that do not apply to the envelope's type are left out.
func EnvelopeValue(env *message.Envelope) map[string]any {
	obj := map[string]any{"type": string(env.Type)}
	if env.ID != "" {
		obj["id"] = env.ID
	}
	if env.Method != "" {
		obj["method"] = env.Method
	}
	if env.Args != nil {
		obj["args"] = env.Args
	}
	if env.Type == message.MsgTypeResponse {
		if env.Error != nil {
			e := map[string]any{"message": env.Error.Message}
			if env.Error.Name != "" {
				e["name"] = env.Error.Name
			}
			obj["error"] = e
		} else {
			obj["result"] = env.Result
		}
	}
	return obj
}

// EnvelopeFromValue is the inverse of EnvelopeValue.
func EnvelopeFromValue(v any) (*message.Envelope, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotEnvelope, v)
	}
	t, ok := obj["type"].(string)
	if !ok || t == "" {
		return nil, fmt.Errorf("%w: missing type", ErrNotEnvelope)
	}
	env := &message.Envelope{Type: message.MsgType(t)}
	if id, ok := obj["id"]; ok {
		if env.ID, ok = id.(string); !ok {
			return nil, fmt.Errorf("%w: id is %T", ErrNotEnvelope, id)
		}
	}
	if m, ok := obj["method"]; ok {
		if env.Method, ok = m.(string); !ok {
			return nil, fmt.Errorf("%w: method is %T", ErrNotEnvelope, m)
		}
	}
	if a, ok := obj["args"]; ok && a != nil {
		if env.Args, ok = a.([]any); !ok {
			return nil, fmt.Errorf("%w: args is %T", ErrNotEnvelope, a)
		}
	}
	env.Result = obj["result"]
	if e, ok := obj["error"].(map[string]any); ok {
		info := &message.ErrorInfo{}
		info.Message, _ = e["message"].(string)
		info.Name, _ = e["name"].(string)
		env.Error = info
	}
	return env, nil
}
