// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"sync"
)

// Operation is a unit of work run by a [Queue].
type Operation[T any] func(ctx context.Context) (T, error)

// Queue is a FIFO scheduler that bounds how many operations run at once. Operations begin in the
// order they were enqueued; a failing operation settles only its own [Future].
//
// Queues are safe for concurrent use.
type Queue[T any] struct {
	mu            sync.Mutex
	items         []queueItem[T]
	running       int
	maxConcurrent int
	paused        bool
}

type queueItem[T any] struct {
	ctx    context.Context
	op     Operation[T]
	future *Future[T]
}

// NewQueue returns an un-paused queue that runs at most maxConcurrent operations at a time. Values
// below one are treated as one.
func NewQueue[T any](maxConcurrent int) *Queue[T] {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue[T]{maxConcurrent: maxConcurrent}
}

// Enqueue appends op to the tail of the queue and attempts dispatch. ctx is handed to op when it
// runs.
func (q *Queue[T]) Enqueue(ctx context.Context, op Operation[T]) *Future[T] {
	f := newFuture[T]()

	q.mu.Lock()
	q.items = append(q.items, queueItem[T]{ctx: ctx, op: op, future: f})
	q.mu.Unlock()

	q.dispatch()
	return f
}

// Pause stops further dispatch. Operations already running still complete and settle.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables dispatch and drains the queue as far as the concurrency bound allows.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()

	q.dispatch()
}

// Flush rejects every operation that hasn't started yet with err and returns how many were
// dropped. Running operations are unaffected.
func (q *Queue[T]) Flush(err error) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	var zero T
	for _, it := range items {
		it.future.settle(zero, err)
	}
	return len(items)
}

// Len returns the number of operations waiting to start.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Running returns the number of operations currently in flight.
func (q *Queue[T]) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue[T]) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.paused && q.running < q.maxConcurrent && len(q.items) > 0 {
		it := q.items[0]
		q.items[0] = queueItem[T]{}
		q.items = q.items[1:]
		q.running++

		go q.run(it)
	}
}

func (q *Queue[T]) run(it queueItem[T]) {
	v, err := it.op(it.ctx)
	it.future.settle(v, err)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()

	q.dispatch()
}

// Future is the eventual result of an enqueued [Operation].
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(v T, err error) {
	f.once.Do(func() {
		f.value, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done, whichever happens first. Giving up on a
// future doesn't remove its operation from the queue.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
