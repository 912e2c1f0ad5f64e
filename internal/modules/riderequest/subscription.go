// README: Live subscription handle with delivery-then-teardown ordering.
package riderequest

import (
	"context"
	"sync"
)

// Subscription is returned by the Subscribe* methods. Callbacks run on a
// goroutine owned by the subscription, never concurrently with each other.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex // held while a callback runs
	closed bool

	errMu sync.Mutex
	err   error
}

func startSubscription[T any](parent context.Context, watch func(context.Context, func(T)) error, fn func(T), onEnd func()) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer onEnd()
		err := watch(ctx, func(v T) { sub.deliver(func() { fn(v) }) })
		sub.errMu.Lock()
		sub.err = err
		sub.errMu.Unlock()
	}()
	return sub
}

func (s *Subscription) deliver(call func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	call()
}

// Unsubscribe stops the subscription. Once it returns no callback is running
// and none will run again. It must not be called from inside the callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
	})
}

// Done is closed when the underlying listener has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the listener stopped; nil after a normal Unsubscribe.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
