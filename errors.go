// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"errors"
	"fmt"
)

// Error codes carried on ERROR messages sent by the engine.
const (
	CodeInvocationError int32 = 1    // handler dispatch failed, session-local
	CodeBadCode         int32 = 2    // handler code could not be loaded, fatal
	CodeNoHandler       int32 = -100 // no handler registered for the event
)

// Errno values carried on TERMINATE messages sent by the engine.
const (
	ErrnoGeneric int32 = 1
)

// Configuration errors reported before any connection attempt.
var (
	// ErrMissingID is reported when the worker identity is absent from the
	// initialization parameters.
	ErrMissingID = errors.New("worker: missing identity")

	// ErrInvalidEndpoint is reported when an endpoint descriptor does not
	// match one of the accepted forms.
	ErrInvalidEndpoint = errors.New("worker: invalid endpoint")
)

// ErrResponseClosed is reported by Response.Write after the response stream
// has been closed.
var ErrResponseClosed = errors.New("worker: response closed")

// errSessionDone is reported when a chunk is pushed into a session whose
// stream has already terminated.
var errSessionDone = errors.New("session stream terminated")

// A BadCodeError wraps a failure to load or construct handler code. Unlike
// any other dispatch error it is protocol fatal: the engine reports it to the
// invoking session and then terminates with reason "Bad code".
type BadCodeError struct {
	Err error
}

// Error satisfies the error interface.
func (b *BadCodeError) Error() string { return fmt.Sprintf("bad code: %v", b.Err) }

// Unwrap reports the underlying error of b.
func (b *BadCodeError) Unwrap() error { return b.Err }

// isBadCode reports whether err is classified as a fatal handler error.
func isBadCode(err error) bool {
	var bc *BadCodeError
	return errors.As(err, &bc)
}
