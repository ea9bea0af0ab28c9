// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package outqueue implements the output queue: a
// single-writer, serialized async write queue over any io.Writer sink.
package outqueue

import (
	"context"
	"errors"
	"io"
)

// ErrCancelled is passed to pending completions when the queue is
// cancelled before their write runs.
var ErrCancelled = errors.New("outqueue: cancelled")

// Flusher is implemented by sinks that buffer writes and need an explicit
// flush after each push completes (net.Conn and most raw pipes do not
// need this; bufio.Writer does).
type Flusher interface {
	Flush() error
}

type entry struct {
	buf        []byte
	completion func(error)
}

// Queue serializes writes to a single io.Writer so that, regardless of how
// many goroutines call Push concurrently, bytes reach the sink in push
// order, contiguous per push, with exactly one write or flush in flight at
// any time.
type Queue struct {
	sink      io.Writer
	entries   chan entry
	done      chan struct{}
	cancelled chan struct{}
}

// New starts a Queue writing to sink. depth bounds how many pending pushes
// may be buffered before Push blocks its caller; 0 means unbuffered
// (every Push blocks until the worker takes it, which is after the prior
// write has finished).
func New(sink io.Writer, depth int) *Queue {
	q := &Queue{
		sink:      sink,
		entries:   make(chan entry, depth),
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case e := <-q.entries:
			q.perform(e)
		case <-q.cancelled:
			q.drain()
			return
		}
	}
}

func (q *Queue) perform(e entry) {
	_, err := q.sink.Write(e.buf)
	if err == nil {
		if f, ok := q.sink.(Flusher); ok {
			err = f.Flush()
		}
	}
	if e.completion != nil {
		e.completion(err)
	}
}

// drain fails every entry still buffered at cancellation time, without
// blocking for more to arrive (Push refuses new entries once cancelled).
func (q *Queue) drain() {
	for {
		select {
		case e := <-q.entries:
			if e.completion != nil {
				e.completion(ErrCancelled)
			}
		default:
			return
		}
	}
}

// Push submits buf for writing. completion, if non-nil, is invoked exactly
// once with the write error (nil on success) once buf has been fully
// written and the sink flushed. Push does not block for the write itself
// to complete — only for room in the queue.
func (q *Queue) Push(ctx context.Context, buf []byte, completion func(error)) error {
	select {
	case <-q.cancelled:
		return ErrCancelled
	default:
	}
	select {
	case q.entries <- entry{buf: buf, completion: completion}:
		return nil
	case <-q.cancelled:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushAndWait submits buf and blocks until its completion fires, returning
// the write error.
func (q *Queue) PushAndWait(ctx context.Context, buf []byte) error {
	result := make(chan error, 1)
	if err := q.Push(ctx, buf, func(err error) { result <- err }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops accepting new pushes and fails any still pending with
// ErrCancelled, then waits for the worker goroutine to exit.
func (q *Queue) Cancel() {
	close(q.cancelled)
	<-q.done
}
