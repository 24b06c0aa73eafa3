// Package supervisor provides an orchestrator-side peer for driving and
// testing workers. It speaks the supervisor half of the worker protocol:
// opening sessions with INVOKE, streaming chunks, acknowledging heartbeats,
// and issuing TERMINATE.
package supervisor

import (
	"context"
	"net"

	"github.com/creachadair/taskgroup"
	worker "github.com/nobodyisme/cocaine-worker"
	"github.com/nobodyisme/cocaine-worker/channel"
)

// An Option adjusts the behavior of a Supervisor.
type Option func(*Supervisor)

// AutoHeartbeat makes the supervisor acknowledge every HEARTBEAT it receives
// with a HEARTBEAT of its own, keeping the worker's disown timer at bay.
func AutoHeartbeat() Option {
	return func(s *Supervisor) { s.autoHB = true }
}

// A Supervisor drives the orchestrator side of a worker channel. All
// messages received from the worker are delivered in order through Next.
type Supervisor struct {
	ch     worker.Channel
	tasks  *taskgroup.Group
	autoHB bool
	msgs   chan *worker.Message
}

// Attach starts a supervisor on the given channel and begins receiving
// messages from the worker.
func Attach(ch worker.Channel, opts ...Option) *Supervisor {
	s := &Supervisor{
		ch:    ch,
		tasks: taskgroup.New(nil),
		msgs:  make(chan *worker.Message, 64),
	}
	for _, o := range opts {
		o(s)
	}

	s.tasks.Go(func() error {
		defer close(s.msgs)
		for {
			msg, err := s.ch.Recv()
			if err != nil {
				s.ch.Close()
				return nil
			}
			if s.autoHB && msg.Op == worker.OpHeartbeat {
				s.Heartbeat()
			}
			s.msgs <- msg
		}
	})
	return s
}

// Next returns the next message received from the worker, blocking until one
// arrives, the channel closes, or ctx ends.
func (s *Supervisor) Next(ctx context.Context) (*worker.Message, error) {
	select {
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, net.ErrClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invoke opens a session for the named event.
func (s *Supervisor) Invoke(session uint64, event string) error {
	return s.ch.Send(&worker.Message{
		Op:      worker.OpInvoke,
		Session: session,
		Payload: worker.Invoke{Event: event}.Encode(),
	})
}

// Chunk sends one unit of payload data into the session.
func (s *Supervisor) Chunk(session uint64, data []byte) error {
	return s.ch.Send(&worker.Message{Op: worker.OpChunk, Session: session, Payload: data})
}

// Choke signals normal end-of-stream for the session.
func (s *Supervisor) Choke(session uint64) error {
	return s.ch.Send(&worker.Message{Op: worker.OpChoke, Session: session})
}

// Error sends a session-scoped error notification.
func (s *Supervisor) Error(session uint64, code int32, text string) error {
	return s.ch.Send(&worker.Message{
		Op:      worker.OpError,
		Session: session,
		Payload: worker.ErrorInfo{Code: code, Text: text}.Encode(),
	})
}

// Heartbeat acknowledges the worker's liveness signal.
func (s *Supervisor) Heartbeat() error {
	return s.ch.Send(&worker.Message{Op: worker.OpHeartbeat})
}

// Terminate orders the worker to shut down with the given errno and reason.
func (s *Supervisor) Terminate(errno int32, reason string) error {
	return s.ch.Send(&worker.Message{
		Op:      worker.OpTerminate,
		Payload: worker.Terminate{Errno: errno, Reason: reason}.Encode(),
	})
}

// Stop closes the channel and blocks until the receive loop has drained.
func (s *Supervisor) Stop() {
	s.ch.Close()
	s.tasks.Wait()
}

// Local is a worker and supervisor joined by an in-memory channel, suitable
// for tests and the selftest harness.
type Local struct {
	W *worker.Worker
	S *Supervisor
}

// NewLocal starts a worker with cfg and a supervisor on the two ends of a
// direct channel. The supervisor is attached before the worker starts, so
// the worker's handshake and initial heartbeat are never lost.
func NewLocal(cfg worker.Config, opts ...Option) (*Local, error) {
	sch, wch := channel.Direct()
	w, err := worker.New(cfg)
	if err != nil {
		return nil, err
	}
	s := Attach(sch, opts...)
	w.Start(wch)
	return &Local{W: w, S: s}, nil
}

// Stop shuts down both ends and reports the worker's exit status.
func (l *Local) Stop() *worker.Status {
	st := l.W.Stop()
	l.S.Stop()
	return st
}
