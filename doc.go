// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

// Package worker implements the runtime side of a supervised worker process.
//
// A worker is spawned by an external supervisor and speaks a small
// session-multiplexed RPC protocol over a single duplex connection (a pipe
// or local socket). The supervisor opens one logical session per INVOKE
// message; within a session zero or more data chunks flow in each direction
// until the stream is choked or fails. Two timers watch peer liveness: a
// periodic heartbeat, and a disown watchdog that stops the worker when the
// supervisor goes silent.
//
// # Workers
//
// The core type defined by this package is the [Worker]. Construct one with
// [New], register event handlers, and start it on a [Channel] connected to
// the supervisor:
//
//	w, err := worker.New(worker.Config{ID: uuid})
//	if err != nil {
//	   log.Fatal(err)
//	}
//	w.Register("ping", worker.HandlerFunc(pong))
//	w.Start(ch)
//
// The worker runs until [Worker.Stop] is called, the channel closes, the
// disown timer elapses, or a protocol fatal condition occurs. Call
// [Worker.Wait] to wait for the worker to exit; a non-nil [Status] means the
// host process should exit with a non-zero code:
//
//	if st := w.Wait(); st != nil {
//	   log.Fatalf("Worker failed: %v", st)
//	}
//
// The engine never exits the process itself; that decision belongs to the
// thin host layer consuming the status (see cmd/cocaine-worker).
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive protocol
// messages over a reliable ordered transport. The channel package provides
// implementations over local sockets, pipes, and in-memory pairs, and a
// Dial helper for the endpoint descriptors a supervisor hands to a spawned
// process.
//
// # Handlers
//
// An event handler exposes one capability: Invoke(req, rsp). The request is
// the session's incoming chunk stream; the response emits chunks, a choke,
// or an error back to the supervisor:
//
//	func pong(req *worker.Request, rsp *worker.Response) error {
//	   rsp.Write([]byte("pong"))
//	   return rsp.Close()
//	}
//
// Invoke runs inside the dispatch loop and must not block waiting for
// request chunks. Handlers that consume their request stream run their body
// on a separate goroutine; the handler package provides adapters for that
// and for typed function signatures.
//
// A dispatch error is session-local unless it is a [*BadCodeError], which
// indicates the handler code itself could not be loaded and is protocol
// fatal.
//
// # Metrics
//
// Workers maintain a collection of expvar metrics while running; use the
// [Worker.Metrics] method to obtain the map. Metrics are shared globally
// among all workers in the process.
package worker
