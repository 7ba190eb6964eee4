// Package gated implements the queue between measurement producers and the
// serial sink: multi-producer, single-consumer, FIFO, with a readiness gate
// owned by the consumer. While the gate is closed producers fail fast
// instead of buffering, which keeps memory bounded when the downstream link
// is gone for a long time.
package gated

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotReady     = fmt.Errorf("channel not ready")
	ErrDisconnected = fmt.Errorf("channel disconnected")
	ErrRecvTimeout  = fmt.Errorf("receive timed out")
)

type channel[T any] struct {
	mu       sync.Mutex
	queue    []T
	senders  int
	recvGone bool
	ready    atomic.Bool
	notEmpty chan struct{}
}

func (c *channel[T]) wake() {
	select {
	case c.notEmpty <- struct{}{}:
	default:
	}
}

// Sender is a producer handle. Handles are not safe for concurrent use;
// give every producer its own Clone.
type Sender[T any] struct {
	ch     *channel[T]
	closed bool
}

// Receiver is the single consumer handle.
type Receiver[T any] struct {
	ch *channel[T]
}

// New builds a channel pair. The gate starts closed.
func New[T any]() (*Sender[T], *Receiver[T]) {
	ch := &channel[T]{notEmpty: make(chan struct{}, 1)}
	ch.senders = 1
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

// Ready reports the gate state as last set by the consumer.
func (s *Sender[T]) Ready() bool {
	return s.ch.ready.Load()
}

// Send enqueues v without ever blocking. It fails with ErrNotReady while
// the gate is closed (v is dropped, the queue untouched) and with
// ErrDisconnected when the receiver is gone or the handle is closed.
func (s *Sender[T]) Send(v T) error {
	if !s.ch.ready.Load() {
		return ErrNotReady
	}
	s.ch.mu.Lock()
	if s.closed || s.ch.recvGone {
		s.ch.mu.Unlock()
		return ErrDisconnected
	}
	s.ch.queue = append(s.ch.queue, v)
	s.ch.mu.Unlock()
	s.ch.wake()
	return nil
}

// Clone registers another producer handle.
func (s *Sender[T]) Clone() *Sender[T] {
	s.ch.mu.Lock()
	s.ch.senders++
	s.ch.mu.Unlock()
	return &Sender[T]{ch: s.ch}
}

// Close releases the handle. When the last handle closes, a draining
// receiver starts observing ErrDisconnected.
func (s *Sender[T]) Close() {
	s.ch.mu.Lock()
	if !s.closed {
		s.closed = true
		s.ch.senders--
	}
	last := s.ch.senders == 0
	s.ch.mu.Unlock()
	if last {
		s.ch.wake()
	}
}

// SetReady opens or closes the gate.
func (r *Receiver[T]) SetReady(ready bool) {
	r.ch.ready.Store(ready)
}

// Recv pops the oldest element, blocking for at most timeout. It returns
// ErrRecvTimeout on expiry and ErrDisconnected once the queue is drained
// and every sender is closed.
func (r *Receiver[T]) Recv(timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		r.ch.mu.Lock()
		if len(r.ch.queue) > 0 {
			v := r.ch.queue[0]
			r.ch.queue = r.ch.queue[1:]
			if len(r.ch.queue) == 0 {
				r.ch.queue = nil
			} else {
				r.ch.wake()
			}
			r.ch.mu.Unlock()
			return v, nil
		}
		if r.ch.senders == 0 {
			r.ch.mu.Unlock()
			return zero, ErrDisconnected
		}
		r.ch.mu.Unlock()
		select {
		case <-r.ch.notEmpty:
		case <-timer.C:
			return zero, ErrRecvTimeout
		}
	}
}

// Close marks the consumer as gone; subsequent sends fail with
// ErrDisconnected.
func (r *Receiver[T]) Close() {
	r.ch.mu.Lock()
	r.ch.recvGone = true
	r.ch.mu.Unlock()
}
