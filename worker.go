// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// A Channel is a reliable ordered stream of messages shared by a worker and
// its supervisor.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver. Close must cause pending send and receive
// operations to terminate and report an error.
type Channel interface {
	// Send the message in binary format to the receiver.
	Send(*Message) error

	// Receive the next available message from the channel.
	Recv() (*Message, error)

	// Close the channel. After a channel is closed, all further operations
	// on it must report an error.
	Close() error
}

// Default timer settings, chosen to match the supervisor's expectations: a
// heartbeat is sent every Heartbeat interval, and the peer must acknowledge
// within Disown of each send.
const (
	DefaultHeartbeat = 20 * time.Second
	DefaultDisown    = 2 * time.Second
)

// Config carries the initialization parameters of a worker engine.
type Config struct {
	// ID is the worker identity assigned by the supervisor, announced in the
	// HANDSHAKE. It must be non-empty.
	ID string

	// Heartbeat is the interval between HEARTBEAT emissions.
	// If zero, DefaultHeartbeat is used.
	Heartbeat time.Duration

	// Disown is how long the engine waits after sending a heartbeat for the
	// supervisor's acknowledgment before considering itself abandoned.
	// If zero, DefaultDisown is used.
	Disown time.Duration

	// Log receives the engine's diagnostics. If nil, logs are discarded.
	Log *zap.Logger
}

// Status describes why a worker stopped. A nil *Status means the worker
// stopped cleanly (local Stop, or the channel closed without a fault); any
// non-nil Status is fatal and the host process should exit non-zero.
type Status struct {
	Errno    int32  // errno carried on the TERMINATE message, if one was sent
	Reason   string // human-readable reason
	Disowned bool   // the disown timer elapsed; no TERMINATE was sent
}

func (s *Status) String() string {
	if s.Disowned {
		return "disowned"
	}
	return fmt.Sprintf("terminated (errno=%d): %s", s.Errno, s.Reason)
}

// A Worker implements the runtime side of the worker protocol. Construct a
// worker with New, register event handlers with Register, then call Start
// with a channel connected to the supervisor. Once started, the worker runs
// until Stop is called, the channel closes, the disown timer elapses, or a
// protocol fatal condition occurs. Use Wait to wait for the worker to exit
// and report its status.
//
// Register and Stop are safe for concurrent use by multiple goroutines.
type Worker struct {
	id       string
	hbPeriod time.Duration
	dsPeriod time.Duration
	log      *zap.Logger
	registry *Registry

	in  interface{ Recv() (*Message, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks  *taskgroup.Group
	disown *time.Timer

	μ sync.Mutex

	sessions *sessionTable
	quit     chan struct{} // closed to stop the heartbeat loop
	stopping bool
	stat     *Status

	onExit func(*Status)
}

// New constructs a new unstarted worker from cfg. It reports ErrMissingID if
// the worker identity is absent.
func New(cfg Config) (*Worker, error) {
	if cfg.ID == "" {
		return nil, ErrMissingID
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Disown <= 0 {
		cfg.Disown = DefaultDisown
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		id:       cfg.ID,
		hbPeriod: cfg.Heartbeat,
		dsPeriod: cfg.Disown,
		log:      log,
		registry: newRegistry(log),
	}, nil
}

// ID reports the worker identity announced in the handshake.
func (w *Worker) ID() string { return w.id }

// Register binds an event name to a handler construction function; see
// Registry.Register for the accepted shapes. It is safe to call this while
// the worker is running.
func (w *Worker) Register(event string, factory any) *Worker {
	w.registry.Register(event, factory)
	return w
}

// RegisterAll registers every event in binds. It is the bulk form of
// Register.
func (w *Worker) RegisterAll(binds map[string]any) *Worker {
	for event, factory := range binds {
		w.registry.Register(event, factory)
	}
	return w
}

// OnExit registers a callback to be invoked when the worker stops. The
// callback is executed synchronously during shutdown with the same status
// that will be reported by Wait. Only one exit callback can be registered at
// a time; if f == nil the callback is removed.
func (w *Worker) OnExit(f func(*Status)) *Worker {
	w.μ.Lock()
	defer w.μ.Unlock()
	w.onExit = f
	return w
}

// Metrics returns a metrics map for the worker. It is safe for the caller to
// add additional metrics to the map while the worker is active.
func (w *Worker) Metrics() *expvar.Map { return workerMetrics.emap }

// Start starts the worker on the given channel: it announces the worker
// identity with a HANDSHAKE, sends the initial HEARTBEAT (which arms the
// disown timer), starts the periodic heartbeat, and begins dispatching
// incoming messages. Start does not block; call Wait to wait for the worker
// to exit and report its status.
func (w *Worker) Start(ch Channel) *Worker {
	w.μ.Lock()
	if w.in != nil {
		w.μ.Unlock()
		panic("worker is already started")
	}
	w.in = ch
	w.out.ch = ch
	w.tasks = taskgroup.New(nil)
	w.sessions = newSessionTable()
	w.quit = make(chan struct{})
	w.stopping = false
	w.stat = nil

	// Created disarmed; every heartbeat send re-arms it.
	w.disown = time.AfterFunc(time.Hour, w.onDisown)
	w.disown.Stop()
	w.μ.Unlock()

	// Both messages are sent only after all initialization, so the timers
	// start in a consistent state: the handshake announces the identity, and
	// the initial heartbeat arms the disown watchdog.
	w.log.Debug("send handshake", zap.String("id", w.id))
	if err := w.send(&Message{Op: OpHandshake, Payload: Handshake{ID: w.id}.Encode()}); err != nil {
		w.log.Error("handshake failed", zap.Error(err))
	}
	w.sendHeartbeat()

	w.tasks.Go(func() error {
		for {
			msg, err := w.in.Recv()
			if err != nil {
				w.fail(err)
				return nil
			}
			w.dispatch(msg)
		}
	})

	w.tasks.Go(func() error {
		t := time.NewTicker(w.hbPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.sendHeartbeat()
			case <-w.quit:
				return nil
			}
		}
	})

	return w
}

// Stop closes the channel and terminates the worker without sending a
// TERMINATE message. It blocks until the worker has exited and returns its
// status. After Stop completes it is safe to restart the worker with a new
// channel.
func (w *Worker) Stop() *Status { w.shutdown(); return w.Wait() }

// Wait blocks until the worker stops and reports why. A nil status means a
// clean stop; see Status. After Wait completes it is safe to restart the
// worker with a new channel.
func (w *Worker) Wait() *Status {
	w.μ.Lock()
	t := w.tasks
	w.μ.Unlock()
	if t == nil {
		return nil // the worker is not running
	}
	t.Wait()

	// Clean up worker state so it can be restarted.
	w.μ.Lock()
	defer w.μ.Unlock()
	w.in = nil
	w.tasks = nil
	w.sessions = nil
	w.out.Lock()
	w.out.ch = nil
	w.out.Unlock()
	return w.stat
}

// ActiveSessions reports the ids of the sessions with a live table entry, in
// ascending order.
func (w *Worker) ActiveSessions() []uint64 {
	w.μ.Lock()
	defer w.μ.Unlock()
	if w.sessions == nil {
		return nil
	}
	return w.sessions.ids()
}

// dispatch routes one inbound message. Messages are processed strictly in
// the order the channel delivers them; chunk and choke notifications for a
// session therefore reach its sink in transport order.
func (w *Worker) dispatch(msg *Message) {
	workerMetrics.messagesRecv.Add(1)

	w.μ.Lock()
	done := w.stat != nil || w.stopping
	w.μ.Unlock()
	if done {
		return // the engine accepts no further messages once stopping
	}

	switch msg.Op {
	case OpInvoke:
		var iv Invoke
		if err := iv.Decode(msg.Payload); err != nil {
			w.dropMessage(msg, err)
			return
		}
		w.handleInvoke(msg.Session, iv.Event)

	case OpChunk:
		w.μ.Lock()
		sink, ok := w.sessions.lookup(msg.Session)
		w.μ.Unlock()
		if !ok {
			w.log.Debug("chunk for unknown session ignored", zap.Uint64("session", msg.Session))
			return
		}
		w.log.Debug("receive chunk", zap.Uint64("session", msg.Session), zap.Int("bytes", len(msg.Payload)))
		if err := sink.push(msg.Payload); err != nil {
			// Payload delivery failure is unrecoverable protocol corruption.
			w.log.Error("chunk delivery failed", zap.Uint64("session", msg.Session), zap.Error(err))
			w.terminate(ErrnoGeneric, fmt.Sprintf("Push error: %v", err))
		}

	case OpChoke:
		w.μ.Lock()
		sink, ok := w.sessions.choke(msg.Session)
		w.updateSessionGaugeLocked()
		w.μ.Unlock()
		if ok {
			w.log.Debug("receive choke", zap.Uint64("session", msg.Session))
			sink.close()
		}

	case OpHeartbeat:
		w.log.Debug("receive heartbeat, disown timer stopped")
		workerMetrics.heartbeatRecv.Add(1)
		w.disown.Stop()

	case OpTerminate:
		var t Terminate
		if err := t.Decode(msg.Payload); err != nil {
			w.dropMessage(msg, err)
			return
		}
		w.log.Info("receive terminate", zap.Int32("errno", t.Errno), zap.String("reason", t.Reason))
		w.terminate(t.Errno, t.Reason)

	case OpError:
		var e ErrorInfo
		if err := e.Decode(msg.Payload); err != nil {
			w.dropMessage(msg, err)
			return
		}
		w.μ.Lock()
		sink, ok := w.sessions.lookup(msg.Session)
		w.μ.Unlock()
		if ok {
			// The entry stays in the table; only a choke removes it.
			sink.fail(&SessionError{Code: e.Code, Text: e.Text})
		}

	default:
		w.dropMessage(msg, nil)
	}
}

// dropMessage discards an unrecognized or malformed message silently, per
// the protocol.
func (w *Worker) dropMessage(msg *Message, err error) {
	workerMetrics.messagesDropped.Add(1)
	w.log.Debug("message dropped", zap.Stringer("op", msg.Op), zap.Error(err))
}

// handleInvoke opens a session: it builds the request/response pair, runs
// handler dispatch, and classifies any dispatch failure.
func (w *Worker) handleInvoke(session uint64, event string) {
	workerMetrics.invokesIn.Add(1)

	req := newRequest(session)
	rsp := newResponse(session, w)

	err := w.registry.Invoke(event, req, rsp)
	if err == nil {
		// A handler that already closed its response completed the whole
		// session; do not resurrect its table entry.
		if !rsp.completed() {
			w.μ.Lock()
			w.sessions.add(session, req)
			w.updateSessionGaugeLocked()
			w.μ.Unlock()
		}
		return
	}

	workerMetrics.invokesFailed.Add(1)
	if isBadCode(err) {
		w.log.Error("unrecoverable invocation error", zap.String("event", event), zap.Error(err))
		rsp.Error(CodeBadCode, fmt.Sprintf("unrecoverable error: %v", err))
		w.terminate(ErrnoGeneric, "Bad code")
		return
	}
	w.log.Error("invocation error", zap.String("event", event), zap.Error(err))
	rsp.Error(CodeInvocationError, "Invocation error")
}

// sendHeartbeat emits one HEARTBEAT and re-arms the disown watchdog to its
// full duration. The watchdog is armed before the send so a stalled channel
// cannot postpone disown detection.
func (w *Worker) sendHeartbeat() {
	w.disown.Reset(w.dsPeriod)
	w.log.Debug("send heartbeat, disown timer armed", zap.Duration("timeout", w.dsPeriod))
	workerMetrics.heartbeatSent.Add(1)
	if err := w.send(&Message{Op: OpHeartbeat}); err != nil {
		w.log.Debug("heartbeat send failed", zap.Error(err))
	}
}

// sendChunk emits one CHUNK for the session.
func (w *Worker) sendChunk(session uint64, data []byte) error {
	return w.send(&Message{Op: OpChunk, Session: session, Payload: data})
}

// sendChoke signals normal end-of-stream for the session.
func (w *Worker) sendChoke(session uint64) error {
	return w.send(&Message{Op: OpChoke, Session: session})
}

// sendError reports a session-scoped error to the supervisor.
func (w *Worker) sendError(session uint64, code int32, text string) error {
	return w.send(&Message{Op: OpError, Session: session, Payload: ErrorInfo{Code: code, Text: text}.Encode()})
}

// sessionChoked completes a session after the local response was closed: the
// table entry is dropped and the request sink is ended so a blocked reader
// resumes.
func (w *Worker) sessionChoked(session uint64) {
	w.μ.Lock()
	var sink *Request
	var ok bool
	if w.sessions != nil {
		sink, ok = w.sessions.choke(session)
		w.updateSessionGaugeLocked()
	}
	w.μ.Unlock()
	if ok {
		sink.close()
	}
}

// onDisown fires when the disown timer elapses with no acknowledgment from
// the supervisor: the worker is presumed abandoned and stops without sending
// any further message.
func (w *Worker) onDisown() {
	w.μ.Lock()
	if w.stat != nil || w.stopping || w.in == nil {
		w.μ.Unlock()
		return
	}
	w.stat = &Status{Disowned: true, Errno: ErrnoGeneric, Reason: "disowned"}
	w.μ.Unlock()

	w.log.Error("disowned by supervisor")
	workerMetrics.disowns.Add(1)
	w.shutdown()
}

// terminate is the single exit point for every fatal condition: it records
// the status, makes a best-effort send of a TERMINATE message, and stops the
// engine.
func (w *Worker) terminate(errno int32, reason string) {
	w.μ.Lock()
	if w.stat != nil {
		w.μ.Unlock()
		return
	}
	w.stat = &Status{Errno: errno, Reason: reason}
	w.μ.Unlock()

	w.log.Error("terminating", zap.Int32("errno", errno), zap.String("reason", reason))
	workerMetrics.terminates.Add(1)
	if err := w.send(&Message{Op: OpTerminate, Payload: Terminate{Errno: errno, Reason: reason}.Encode()}); err != nil {
		w.log.Debug("terminate send failed", zap.Error(err))
	}
	w.shutdown()
}

// shutdown stops the timers and closes the channel, which in turn stops the
// service loop. It is safe to call more than once.
func (w *Worker) shutdown() {
	w.μ.Lock()
	if !w.stopping {
		w.stopping = true
		if w.quit != nil {
			close(w.quit)
		}
		if w.disown != nil {
			w.disown.Stop()
		}
	}
	w.μ.Unlock()
	w.closeOut()
}

// fail finishes the service loop: it terminates the session sinks so any
// handler blocked on a read resumes, and runs the exit callback.
func (w *Worker) fail(err error) {
	w.shutdown()

	w.μ.Lock()
	if w.stat == nil && !treatErrorAsSuccess(err) {
		w.stat = &Status{Errno: ErrnoGeneric, Reason: fmt.Sprintf("transport error: %v", err)}
	}
	if w.sessions != nil {
		w.sessions.failAll(net.ErrClosed)
		w.updateSessionGaugeLocked()
	}
	stat, onExit := w.stat, w.onExit
	w.μ.Unlock()

	if onExit != nil {
		onExit(stat)
	}
}

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (w *Worker) updateSessionGaugeLocked() {
	workerMetrics.sessionsActive.Set(int64(w.sessions.len()))
}

func (w *Worker) send(m *Message) error {
	w.out.Lock()
	defer w.out.Unlock()
	if w.out.ch == nil {
		return net.ErrClosed
	}
	workerMetrics.messagesSent.Add(1)
	return w.out.ch.Send(m)
}

func (w *Worker) closeOut() {
	w.out.Lock()
	defer w.out.Unlock()
	if w.out.ch != nil {
		w.out.ch.Close()
	}
}

// A SessionError is delivered into a session's request stream when the
// supervisor sends an ERROR message for that session.
type SessionError struct {
	Code int32
	Text string
}

// Error satisfies the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("session error [code %d] %s", e.Code, e.Text)
}
