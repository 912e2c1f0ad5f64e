// README: Shared lifecycle for projections (start, render gate, close).
package liveview

import (
	"sync"

	"roadhelper/internal/modules/riderequest"
)

// view serializes renders and guarantees none happen after close returns.
type view struct {
	mu     sync.Mutex
	sink   Sink
	sub    *riderequest.Subscription
	closed bool
}

// emit renders f unless the view is closed.
func (v *view) emit(f Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.sink.Render(f)
	}
}

// locked runs fn under the render lock; fn is skipped once closed.
func (v *view) locked(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		fn()
	}
}

// attach stores sub, or unsubscribes it when the view closed meanwhile.
func (v *view) attach(sub *riderequest.Subscription) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	v.sub = sub
	v.mu.Unlock()
}

// detach removes and returns the current subscription.
func (v *view) detach() *riderequest.Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	sub := v.sub
	v.sub = nil
	return sub
}

// Close unsubscribes; no frame is rendered after it returns.
func (v *view) Close() {
	v.mu.Lock()
	v.closed = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Done is closed when the current subscription's listener stops; nil before Start.
func (v *view) Done() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub == nil {
		return nil
	}
	return v.sub.Done()
}
