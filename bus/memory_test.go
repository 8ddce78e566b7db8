package bus

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPubSubFanOut(t *testing.T) {
	ps := NewMemoryPubSub()
	a, cancelA, err := ps.Subscribe("t")
	require.NoError(t, err)
	b, cancelB, err := ps.Subscribe("t")
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, ps.Publish("t", []byte("hi")))
	for _, ch := range []<-chan Message{a, b} {
		select {
		case msg := <-ch:
			require.Equal(t, "hi", string(msg.Payload))
			require.Equal(t, "t", msg.Topic)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the message")
		}
	}

	cancelA()
	_, open := <-a
	require.False(t, open, "cancel must close the subscription channel")
	require.Equal(t, 1, ps.Subscribers("t"))
}

func TestMemoryPubSubTopicsAreIsolated(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("a")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish("b", []byte("x")))
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on topic a: %+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryPubSubCopiesPayload(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("t")
	require.NoError(t, err)
	defer cancel()

	payload := []byte("abc")
	require.NoError(t, ps.Publish("t", payload))
	payload[0] = 'z'
	require.Equal(t, "abc", string((<-ch).Payload))
}

func TestMemoryPubSubLastCancelRemovesTopic(t *testing.T) {
	ps := NewMemoryPubSub()
	_, cancel, err := ps.Subscribe("t")
	require.NoError(t, err)
	cancel()
	cancel()
	require.Zero(t, ps.Subscribers("t"))
}

func TestMemoryPubSubNeverDropsBacklog(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("t")
	require.NoError(t, err)
	defer cancel()

	const n = 4 * SubscriberBuffer
	for i := 0; i < n; i++ {
		require.NoError(t, ps.Publish("t", []byte(strconv.Itoa(i))))
	}
	for i := 0; i < n; i++ {
		select {
		case msg := <-ch:
			require.Equal(t, strconv.Itoa(i), string(msg.Payload))
		case <-time.After(time.Second):
			t.Fatalf("message %d of %d never arrived", i, n)
		}
	}
}

func TestMemoryPubSubCancelWithBacklog(t *testing.T) {
	ps := NewMemoryPubSub()
	ch, cancel, err := ps.Subscribe("t")
	require.NoError(t, err)
	for i := 0; i < 2*SubscriberBuffer; i++ {
		require.NoError(t, ps.Publish("t", []byte("x")))
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}
