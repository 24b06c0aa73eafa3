// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

// Package handler provides adapters to the worker.Handler capability for
// functions with other signatures.
//
// Adaptation is explicit: the caller picks the adapter matching the shape of
// the function, and the adapter synthesizes the standard Invoke(request,
// response) entry point around it. Handlers that consume the request stream
// are run on their own goroutine so the engine's dispatch loop never blocks
// on application code.
//
// Parameters may be []byte or string, or a type whose pointer supports one
// of the encoding.BinaryUnmarshaler or encoding.TextUnmarshaler interfaces.
// Results may be []byte or string, or any type that supports one of the
// encoding.BinaryMarshaler or encoding.TextMarshaler interfaces.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	worker "github.com/nobodyisme/cocaine-worker"
)

// Func adapts a synchronous function f to a handler factory. The function
// runs inside the engine's dispatch loop and must not block waiting for
// request chunks; use Stream for handlers that consume their request.
func Func(f func(*worker.Request, *worker.Response) error) worker.Factory {
	return func() (worker.Handler, error) { return worker.HandlerFunc(f), nil }
}

// Stream adapts f to a handler factory that runs f on its own goroutine, so
// f may block reading the request stream. If f reports an error (or panics),
// the error is written to the response; otherwise the response is closed if
// f did not already close it.
func Stream(f func(context.Context, *worker.Request, *worker.Response) error) worker.Factory {
	run := func(req *worker.Request, rsp *worker.Response) error {
		go func() {
			err := func() (err error) {
				defer func() {
					if x := recover(); x != nil && err == nil {
						err = fmt.Errorf("handler panicked (recovered): %v", x)
					}
				}()
				return f(context.Background(), req, rsp)
			}()
			if err != nil {
				rsp.Error(worker.CodeInvocationError, err.Error())
			} else {
				rsp.Close()
			}
		}()
		return nil
	}
	return Func(run)
}

// ParamResultError adapts a function f that accepts a parameter of type P
// and returns a result of type R and an error. The parameter is decoded from
// the first chunk of the request stream; the result is written as a single
// chunk and the response is closed.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) worker.Factory {
	return Stream(func(ctx context.Context, req *worker.Request, rsp *worker.Response) error {
		var p P
		if err := readParam(ctx, req, &p); err != nil {
			return err
		}
		r, err := f(ctx, p)
		if err != nil {
			return err
		}
		data, err := marshal(r)
		if err != nil {
			return err
		}
		if err := rsp.Write(data); err != nil {
			return err
		}
		return rsp.Close()
	})
}

// ParamError adapts a function f that accepts a parameter of type P and
// returns an error with no result.
func ParamError[P any](f func(context.Context, P) error) worker.Factory {
	return Stream(func(ctx context.Context, req *worker.Request, rsp *worker.Response) error {
		var p P
		if err := readParam(ctx, req, &p); err != nil {
			return err
		}
		if err := f(ctx, p); err != nil {
			return err
		}
		return rsp.Close()
	})
}

// ResultError adapts a function f that accepts no parameter and returns a
// result of type R and an error.
func ResultError[R any](f func(context.Context) (R, error)) worker.Factory {
	return Stream(func(ctx context.Context, req *worker.Request, rsp *worker.Response) error {
		r, err := f(ctx)
		if err != nil {
			return err
		}
		data, err := marshal(r)
		if err != nil {
			return err
		}
		if err := rsp.Write(data); err != nil {
			return err
		}
		return rsp.Close()
	})
}

// readParam decodes the first chunk of the request stream into v.
func readParam(ctx context.Context, req *worker.Request, v any) error {
	chunk, err := req.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading parameter: %w", err)
	}
	return unmarshal(chunk, v)
}

// unmarshal decodes data into v. The concrete type of v must be a pointer to
// a []byte or string, or must implement either the encoding.BinaryUnmarshaler
// interface or the encoding.TextUnmarshaler interface.  If v implements
// both, BinaryUnmarshaler is preferred.
func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

// marshal encodes v into data. The concrete type of v must be a []byte or
// string (or a pointer to these); otherwise it must implement either the
// encoding.BinaryMarshaler interface or the encoding.TextMarshaler
// interface. If v implements both, BinaryMarshaler is preferred.
//
// As a special case if v is a nil pointer to a string or []byte, the result
// is nil without error.
func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case *[]byte:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case string:
		return []byte(t), nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return []byte(*t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
