// Package shutdown provides a cooperative shutdown signal shared by a
// group of long-running tasks.
//
// A Coordinator is signalled once; every task started through Go sees the
// done channel close and is expected to return promptly. Nothing is ever
// interrupted forcibly.
package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Coordinator broadcasts a one-shot shutdown signal and tracks the tasks
// that must finish before shutdown is complete.
type Coordinator struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup
}

// New creates a coordinator that has not been signalled.
func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Signal starts shutdown. It returns true only for the call that
// actually changed the state.
func (c *Coordinator) Signal() bool {
	signalled := false
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		signalled = true

		logrus.WithFields(logrus.Fields{
			"function": "Signal",
		}).Debug("Shutdown signalled")
	})
	return signalled
}

// Done returns a channel closed once shutdown has been signalled.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// ShuttingDown reports whether Signal has been called.
func (c *Coordinator) ShuttingDown() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Go runs task in a new goroutine tracked by the coordinator. The task
// receives the done channel. After Signal no new tasks are accepted and
// Go returns false.
func (c *Coordinator) Go(task func(done <-chan struct{})) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.tasks.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.tasks.Done()
		task(c.done)
	}()
	return true
}

// Context derives a context from parent that is also cancelled when
// shutdown is signalled. The returned cancel function must be called to
// release resources.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Wait blocks until every tracked task has returned or ctx ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown signals and then waits for the tracked tasks.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Signal()
	return c.Wait(ctx)
}
