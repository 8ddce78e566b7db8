package codec

import (
	"encoding/json"

	"devtools-rpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Values outside the JSON model lose their identity: Map and Set become
// arrays, Date becomes a string, cycles fail to encode.
type JSONCodec struct{}

type jsonError struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}

type jsonEnvelope struct {
	ID     string     `json:"id,omitempty"`
	Type   string     `json:"type"`
	Method string     `json:"method,omitempty"`
	Args   []any      `json:"args,omitempty"`
	Result any        `json:"result,omitempty"`
	Error  *jsonError `json:"error,omitempty"`
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	env, ok := v.(*message.Envelope)
	if !ok {
		return json.Marshal(v)
	}
	wire := jsonEnvelope{
		ID:     env.ID,
		Type:   string(env.Type),
		Method: env.Method,
		Args:   env.Args,
		Result: env.Result,
	}
	if env.Error != nil {
		wire.Error = &jsonError{Message: env.Error.Message, Name: env.Error.Name}
		wire.Result = nil
	}
	return json.Marshal(&wire)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	env, ok := v.(*message.Envelope)
	if !ok {
		return json.Unmarshal(data, v)
	}
	var wire jsonEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type == "" {
		return ErrNotEnvelope
	}
	*env = message.Envelope{
		ID:     wire.ID,
		Type:   message.MsgType(wire.Type),
		Method: wire.Method,
		Args:   wire.Args,
		Result: wire.Result,
	}
	if wire.Error != nil {
		env.Error = &message.ErrorInfo{Message: wire.Error.Message, Name: wire.Error.Name}
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
