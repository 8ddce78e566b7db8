// Package bus provides the broadcast primitive behind the broadcast preset:
// named topics where every subscriber receives every published payload.
package bus

// Message is one payload delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// PubSub is a minimal interface for broadcast-style communication.
// The cancel func returned by Subscribe closes the subscription channel.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string) (<-chan Message, func(), error)
}
