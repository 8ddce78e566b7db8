package bus

import (
	"sync"

	"devtools-rpc/internal/queue"
)

// subscriber queues published messages without bound and feeds them to its
// out channel in order, so a slow reader delays its own deliveries but never
// loses one and never blocks the publisher.
type subscriber struct {
	out  chan Message
	stop chan struct{}
	q    *queue.Queue[Message]
	once sync.Once
}

func newSubscriber() *subscriber {
	s := &subscriber{
		out:  make(chan Message, SubscriberBuffer),
		stop: make(chan struct{}),
	}
	s.q = queue.New(func(msg Message) {
		select {
		case s.out <- msg:
		case <-s.stop:
		}
	})
	return s
}

func (s *subscriber) push(msg Message) { s.q.Push(msg) }

// close drops undelivered messages and closes out once the feeder is gone.
func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.stop)
		s.q.Close()
		go func() {
			<-s.q.Done()
			close(s.out)
		}()
	})
}
