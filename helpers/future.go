// Based on https://github.com/256dpi/gomqtt/blob/e7823dfd0958f968b8e69eb1bf235456316c54fb/client/future/future.go
// with completed/cancelled channels exported
// which allows to wait on result in custom select statement.

package helpers

import (
	"context"
	"sync"
)

// Future is settled exactly once, either completed with a value or cancelled with an error.
type Future struct {
	result    interface{}
	err       error
	completed chan struct{}
	cancelled chan struct{}
	done      chan struct{}
	settled   bool
	mutex     sync.Mutex
}

func NewFuture() *Future {
	return &Future{
		completed: make(chan struct{}),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (f *Future) Cancelled() <-chan struct{} { return f.cancelled }
func (f *Future) Completed() <-chan struct{} { return f.completed }

// Done is closed after either Complete or Cancel.
func (f *Future) Done() <-chan struct{} { return f.done }

// Complete returns false if future was already settled.
func (f *Future) Complete(result interface{}) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.settled {
		return false
	}

	f.result = result
	close(f.completed)
	close(f.done)
	f.settled = true
	return true
}

// Cancel returns false if future was already settled.
func (f *Future) Cancel(err error) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.settled {
		return false
	}

	f.err = err
	close(f.cancelled)
	close(f.done)
	f.settled = true
	return true
}

func (f *Future) Settled() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.settled
}

// Result is (nil, nil) until settled.
func (f *Future) Result() (interface{}, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.result, f.err
}

// Wait blocks until settled or ctx is done. Context expiry does not settle the future.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
