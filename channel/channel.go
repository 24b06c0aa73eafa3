// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

// Package channel provides implementations of the worker.Channel interface.
package channel

import (
	"bufio"
	"io"
	"net"

	worker "github.com/nobodyisme/cocaine-worker"
)

// Direct constructs a connected pair of in-memory channels that pass
// messages directly without encoding into binary. Messages sent to A are
// received by B and vice versa. Closing either end tears down both
// directions, so a peer blocked in Recv observes the close.
func Direct() (A, B worker.Channel) {
	a2b := make(chan *worker.Message)
	b2a := make(chan *worker.Message)
	A = direct{send: a2b, recv: b2a}
	B = direct{send: b2a, recv: a2b}
	return
}

type direct struct {
	send chan *worker.Message
	recv chan *worker.Message
}

// Send implements a method of the [worker.Channel] interface.
func (d direct) Send(msg *worker.Message) (err error) {
	defer safeClose(&err)
	d.send <- msg
	return nil
}

// Recv implements a method of the [worker.Channel] interface.
func (d direct) Recv() (*worker.Message, error) {
	msg, ok := <-d.recv
	if !ok {
		return nil, net.ErrClosed
	}
	return msg, nil
}

// Close implements a method of the [worker.Channel] interface.
func (d direct) Close() (err error) {
	// Tear down both directions: closing recv is what unblocks a local Recv.
	// A double close, when both ends shut down, is absorbed by safeClose.
	func() { defer safeClose(&err); close(d.send) }()
	func() { defer safeClose(&err); close(d.recv) }()
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives from r and sends to wc, encoding
// messages in the binary wire format.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives binary-encoded messages on a reader and a
// writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [worker.Channel] interface.
func (c IOChannel) Send(msg *worker.Message) error {
	if _, err := msg.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [worker.Channel] interface.
func (c IOChannel) Recv() (*worker.Message, error) {
	var msg worker.Message
	if _, err := msg.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Close implements a method of the [worker.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }

// Dial connects to the supervisor endpoint with a blocking connect and
// returns a channel over the resulting connection. This happens once, before
// any message traffic.
func Dial(ep *worker.Endpoint) (worker.Channel, error) {
	if ep == nil {
		return nil, worker.ErrInvalidEndpoint
	}
	conn, err := net.Dial(ep.Network, ep.Address)
	if err != nil {
		return nil, err
	}
	return IO(conn, conn), nil
}
