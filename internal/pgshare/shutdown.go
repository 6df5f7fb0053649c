package pgshare

import (
	"context"
	"sync"
)

// OnceShutdownHandler is implemented by the object managed by a ShutdownHelper.
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, in its own goroutine. It
	// should take completionErr as an advisory completion value, actually
	// shut down, then return the real completion value.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is implemented by objects that support asynchronous,
// idempotent shutdown.
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	WaitShutdown() error
}

// ShutdownHelper manages once-only, cascading shutdown of an object and its
// children. Embed it in any long-lived component (listener, session,
// registry entry) that owns goroutines or connections needing an orderly
// teardown.
type ShutdownHelper struct {
	Logger

	Lock sync.Mutex

	handler OnceShutdownHandler

	startedOnce bool
	doneOnce    bool
	err         error

	startedChan    chan struct{}
	handlerDone    chan struct{}
	doneChan       chan struct{}

	wg sync.WaitGroup
}

// InitShutdownHelper initializes the helper in place. Must be called before
// any other method.
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, handler OnceShutdownHandler) {
	h.Logger = logger
	h.handler = handler
	h.startedChan = make(chan struct{})
	h.handlerDone = make(chan struct{})
	h.doneChan = make(chan struct{})
}

// IsStartedShutdown returns true once StartShutdown has been called.
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.startedOnce
}

// ShutdownStartedChan is closed as soon as shutdown begins.
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.startedChan
}

// ShutdownDoneChan is closed once shutdown (including all children) completes.
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// StartShutdown schedules asynchronous shutdown. Safe to call more than
// once and from multiple goroutines; only the first call has effect.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.Lock.Lock()
	if h.startedOnce {
		h.Lock.Unlock()
		return
	}
	h.startedOnce = true
	h.err = completionErr
	h.Lock.Unlock()

	close(h.startedChan)
	go func() {
		h.err = h.handler.HandleOnceShutdown(h.err)
		close(h.handlerDone)
		h.wg.Wait()
		close(h.doneChan)
	}()
}

// WaitShutdown blocks until shutdown is complete and returns the final
// completion status. It does not itself initiate shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	return h.err
}

// Shutdown starts (if not already started) and waits for shutdown,
// returning the final completion status.
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// Close is a convenience implementation of io.Closer in terms of Shutdown.
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// ShutdownOnContext begins background monitoring of ctx and starts
// shutdown with ctx.Err() if it is ever cancelled. Non-blocking.
func (h *ShutdownHelper) ShutdownOnContext(ctx context.Context) {
	go func() {
		select {
		case <-h.startedChan:
		case <-ctx.Done():
			h.StartShutdown(ctx.Err())
		}
	}()
}

// AddShutdownChild registers a child whose own shutdown must complete
// before this helper's shutdown is considered done. The child is asked to
// shut down (with this helper's completion error) as soon as this helper's
// own HandleOnceShutdown returns.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		select {
		case <-child.ShutdownDoneChan():
		case <-h.handlerDone:
			child.StartShutdown(h.err)
			child.WaitShutdown()
		}
	}()
}
