// Package node holds the lazily started core node handle shared by the
// proposal repository and the connection orchestrator.
package node

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNodeNotStarted is returned by Await when no start was ever requested.
var ErrNodeNotStarted = errors.New("core node not started")

// Starter brings up the core node. It is called at most once per successful start.
type Starter interface {
	StartNode(ctx context.Context) error
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context) error

// StartNode calls f(ctx).
func (f StarterFunc) StartNode(ctx context.Context) error {
	return f(ctx)
}

type attempt struct {
	done chan struct{}
	err  error
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deferred is a handle to a core node that is started on first use.
// A failed start leaves the handle idle so a later Start can retry.
type Deferred struct {
	mu        sync.Mutex
	cur       *attempt
	startedAt time.Time
}

// NewDeferred returns an idle handle.
func NewDeferred() *Deferred {
	return &Deferred{}
}

// StartedOrStarting reports whether a start is in flight or has completed.
func (d *Deferred) StartedOrStarting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cur != nil
}

// Start starts the node through s unless it is already started or starting,
// in which case it waits for that attempt instead.
func (d *Deferred) Start(ctx context.Context, s Starter) error {
	d.mu.Lock()
	if d.cur != nil {
		a := d.cur
		d.mu.Unlock()
		return a.wait(ctx)
	}
	a := &attempt{done: make(chan struct{})}
	d.cur = a
	d.mu.Unlock()

	err := s.StartNode(ctx)

	d.mu.Lock()
	a.err = err
	if err != nil {
		d.cur = nil
	} else {
		d.startedAt = time.Now().UTC()
	}
	d.mu.Unlock()
	close(a.done)
	return err
}

// Await blocks until the current start attempt finishes.
func (d *Deferred) Await(ctx context.Context) error {
	d.mu.Lock()
	a := d.cur
	d.mu.Unlock()
	if a == nil {
		return ErrNodeNotStarted
	}
	return a.wait(ctx)
}

// StartedAt returns when the node finished starting, or the zero time.
func (d *Deferred) StartedAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startedAt
}
