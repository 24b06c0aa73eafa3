// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"context"
	"io"
	"iter"
	"sync"
)

// A Request is the incoming half of one session: a lazy, session-scoped,
// consume-once sequence of chunk payloads terminated by a choke or an error
// notification from the supervisor.
//
// The engine pushes into the request from its dispatch loop; a handler
// consumes it from its own goroutine via Read or All. Chunks are delivered
// in transport order.
type Request struct {
	session uint64

	mu    sync.Mutex
	buf   [][]byte
	done  bool          // end-of-stream received
	err   error         // terminal error notification, if any
	avail chan struct{} // closed and replaced when state changes
}

func newRequest(session uint64) *Request {
	return &Request{session: session, avail: make(chan struct{})}
}

// Session reports the session id the request belongs to.
func (r *Request) Session() uint64 { return r.session }

// Read returns the next chunk of the request stream. It blocks until a chunk
// is available, the stream ends, or ctx ends. After the stream is choked,
// Read reports io.EOF; after an error notification it reports that error.
func (r *Request) Read(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if len(r.buf) > 0 {
			out := r.buf[0]
			r.buf = r.buf[1:]
			r.mu.Unlock()
			return out, nil
		}
		if err := r.err; err != nil {
			r.mu.Unlock()
			return nil, err
		}
		if r.done {
			r.mu.Unlock()
			return nil, io.EOF
		}
		avail := r.avail
		r.mu.Unlock()

		select {
		case <-avail:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// All yields the chunks of the request stream in order. The iterator yields
// zero or more (chunk, nil) pairs; if the stream ends with an error
// notification or ctx ends, it ends the stream with a final (nil, err) pair.
// A choke ends the stream without a final error. The stream cannot be
// restarted.
func (r *Request) All(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := r.Read(ctx)
			if err == io.EOF {
				return
			} else if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// push appends a chunk to the stream. It reports an error if the stream has
// already terminated; the engine treats that as unrecoverable delivery
// failure.
func (r *Request) push(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.err != nil {
		return errSessionDone
	}
	r.buf = append(r.buf, data)
	r.notifyLocked()
	return nil
}

// close signals normal end-of-stream. Chunks already buffered remain
// readable.
func (r *Request) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	r.notifyLocked()
}

// fail records a terminal error notification. The first error wins.
func (r *Request) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.err != nil {
		return
	}
	r.err = err
	r.notifyLocked()
}

func (r *Request) notifyLocked() {
	close(r.avail)
	r.avail = make(chan struct{})
}
