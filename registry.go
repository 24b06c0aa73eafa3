// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// A Handler services one invocation of an event. Invoke consumes the request
// stream and produces the response stream for a single session.
//
// Invoke runs synchronously inside the engine's dispatch loop and must not
// block waiting for request chunks; a handler that needs later input starts
// its own goroutine (see the handler package) and resumes as the engine
// pushes chunks into the request.
type Handler interface {
	Invoke(req *Request, rsp *Response) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(*Request, *Response) error

// Invoke satisfies the Handler interface.
func (f HandlerFunc) Invoke(req *Request, rsp *Response) error { return f(req, rsp) }

// A Factory constructs a fresh handler instance for one invocation. A
// factory whose code cannot be loaded should report a *BadCodeError; any
// such error is protocol fatal.
type Factory func() (Handler, error)

// A Registry maps event names to handler factories and dispatches
// invocations to them. The zero value is not ready for use; call
// newRegistry.
type Registry struct {
	log *zap.Logger

	mu     sync.Mutex
	events map[string]Factory
}

func newRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log, events: make(map[string]Factory)}
}

// Register binds an event name to a handler construction function. The last
// registration for a name wins.
//
// The factory may take any of the following shapes, selected by an explicit
// type check:
//
//   - Factory or func() (Handler, error): used as is.
//   - func() Handler: wrapped into a Factory that never fails.
//   - Handler: the single instance services every invocation.
//   - HandlerFunc or func(*Request, *Response) error: wrapped into a Factory
//     yielding the function itself.
//
// Any other shape panics with a descriptive message.
func (r *Registry) Register(event string, factory any) {
	f := adaptFactory(event, factory)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event] = f
}

func adaptFactory(event string, factory any) Factory {
	switch t := factory.(type) {
	case Factory:
		return t
	case func() (Handler, error):
		return t
	case func() Handler:
		return func() (Handler, error) { return t(), nil }
	case HandlerFunc:
		return func() (Handler, error) { return t, nil }
	case func(*Request, *Response) error:
		return func() (Handler, error) { return HandlerFunc(t), nil }
	case Handler:
		return func() (Handler, error) { return t, nil }
	default:
		panic(fmt.Sprintf("register %q: unsupported handler shape %T", event, factory))
	}
}

// Invoke dispatches one invocation of the named event.
//
// If no factory is registered for the event, Invoke writes a sentinel
// application-level error (CodeNoHandler) to rsp and returns nil; the engine
// still records a session entry in that case. Otherwise it constructs one
// handler instance and calls its Invoke; any error (including a recovered
// panic, surfaced as an error) propagates unmodified to the engine for
// classification.
func (r *Registry) Invoke(event string, req *Request, rsp *Response) error {
	r.mu.Lock()
	f, ok := r.events[event]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("no handler for event", zap.String("event", event))
		rsp.Error(CodeNoHandler, fmt.Sprintf("there is no handler for event %s", event))
		return nil
	}

	h, err := f()
	if err != nil {
		return err
	}
	return func() (err error) {
		// Ensure a panic out of the handler is surfaced as a dispatch error.
		defer func() {
			if x := recover(); x != nil && err == nil {
				err = fmt.Errorf("handler panicked (recovered): %v", x)
			}
		}()
		return h.Invoke(req, rsp)
	}()
}
