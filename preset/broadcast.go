package preset

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"devtools-rpc/bus"
	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/message"
)

// BroadcastTopic is the bus topic shared by every broadcast channel.
const BroadcastTopic = "__devtools_rpc_broadcast__"

// packet layout on the bus: sender id (36 bytes) followed by the encoded envelope.
const senderIDLen = 36

// BroadcastChannel posts to every other broadcast channel on the same bus,
// including ones created later. It never receives its own posts.
type BroadcastChannel struct {
	id     string
	ps     bus.PubSub
	codec  codec.Codec
	log    zerolog.Logger
	slot   slot
	cancel func()
	once   sync.Once
}

// NewBroadcast is the factory for both roles of the broadcast preset.
func NewBroadcast(env Env) (channel.Channel, error) {
	if env.Bus == nil {
		return channel.Noop(), nil
	}
	msgs, cancel, err := env.Bus.Subscribe(BroadcastTopic)
	if err != nil {
		return nil, err
	}
	bc := &BroadcastChannel{
		id:     uuid.NewString(),
		ps:     env.Bus,
		codec:  env.codec(),
		log:    env.Logger,
		cancel: cancel,
	}
	go bc.listen(msgs)
	return bc, nil
}

func (bc *BroadcastChannel) Post(env *message.Envelope) {
	data, ok := channel.Encode(bc.codec, env, bc.log)
	if !ok {
		return
	}
	packet := make([]byte, 0, senderIDLen+len(data))
	packet = append(packet, bc.id...)
	packet = append(packet, data...)
	if err := bc.ps.Publish(BroadcastTopic, packet); err != nil {
		bc.log.Debug().Err(err).Msg("broadcast publish failed")
	}
}

func (bc *BroadcastChannel) On(handler channel.Handler) { bc.slot.set(handler) }

// Close unsubscribes from the bus.
func (bc *BroadcastChannel) Close() error {
	bc.once.Do(bc.cancel)
	return nil
}

func (bc *BroadcastChannel) listen(msgs <-chan bus.Message) {
	for msg := range msgs {
		if len(msg.Payload) < senderIDLen || string(msg.Payload[:senderIDLen]) == bc.id {
			continue
		}
		env, ok := channel.Decode(bc.codec, msg.Payload[senderIDLen:], bc.log)
		if !ok {
			continue
		}
		bc.slot.deliver(env)
	}
}

var _ channel.Closer = (*BroadcastChannel)(nil)
