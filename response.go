// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import "sync"

// A Response is the outgoing half of one session. Write emits a CHUNK, Close
// emits a CHOKE, and Error emits an ERROR, each delegating to the engine's
// outgoing primitives. A Response is safe for concurrent use.
type Response struct {
	session uint64
	w       *Worker

	mu     sync.Mutex
	closed bool
	choked bool // closed by Close rather than Error
}

func newResponse(session uint64, w *Worker) *Response {
	return &Response{session: session, w: w}
}

// Session reports the session id the response belongs to.
func (r *Response) Session() uint64 { return r.session }

// Write emits one chunk of response payload. It reports ErrResponseClosed
// after the response has been closed.
func (r *Response) Write(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrResponseClosed
	}
	return r.w.sendChunk(r.session, data)
}

// Close signals normal end-of-stream for the session and completes it: the
// engine drops the session's table entry, so later chunk or choke messages
// for the id are ignored. Close is idempotent; only the first call emits a
// CHOKE.
func (r *Response) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.choked = true
	r.mu.Unlock()

	err := r.w.sendChoke(r.session)
	r.w.sessionChoked(r.session)
	return err
}

// completed reports whether the response was closed by Close.
func (r *Response) completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.choked
}

// Error reports a session-scoped error to the supervisor and closes the
// response. It reports ErrResponseClosed after the response has been closed.
func (r *Response) Error(code int32, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrResponseClosed
	}
	r.closed = true
	return r.w.sendError(r.session, code, text)
}
