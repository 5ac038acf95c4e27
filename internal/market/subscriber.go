package market

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var errSubscriberClosed = errors.New("subscriber closed")

// Subscriber is the handle for one connected client.
type Subscriber struct {
	ID          string
	Principal   string
	ConnectedAt time.Time

	transport Transport
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSubscriber(t Transport, principal string) *Subscriber {
	return &Subscriber{
		ID:          uuid.NewString(),
		Principal:   principal,
		ConnectedAt: time.Now().UTC(),
		transport:   t,
	}
}

// Send queues msg on the client's transport.
func (s *Subscriber) Send(msg []byte) error {
	if s.closed.Load() {
		return errSubscriberClosed
	}
	return s.transport.Send(msg)
}

func (s *Subscriber) Closed() bool {
	return s.closed.Load()
}

// markClosed reports whether this call performed the transition.
func (s *Subscriber) markClosed() bool {
	return s.closed.CompareAndSwap(false, true)
}

func (s *Subscriber) closeTransport() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
	})
	return err
}
