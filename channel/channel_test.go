// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package channel_test

import (
	"errors"
	"io"
	"testing"

	"github.com/creachadair/taskgroup"
	"github.com/google/go-cmp/cmp"
	worker "github.com/nobodyisme/cocaine-worker"
	"github.com/nobodyisme/cocaine-worker/channel"
)

func TestDirect(t *testing.T) {
	a, b := channel.Direct()

	g := taskgroup.New(nil)
	g.Go(func() error {
		msg := &worker.Message{Op: worker.OpChunk, Session: 3, Payload: []byte("hi")}
		if err := a.Send(msg); err != nil {
			t.Errorf("A Send: %v", err)
		}
		got, err := a.Recv()
		if err != nil {
			t.Errorf("A Recv: %v", err)
		}
		if got != msg {
			t.Errorf("Message: got %v, want %v", got, msg)
		}
		return nil
	})
	g.Go(func() error {
		msg, err := b.Recv()
		if err != nil {
			t.Errorf("B Recv: %v", err)
		}
		if err := b.Send(msg); err != nil {
			t.Errorf("B Send: %v", err)
		}
		return nil
	})
	g.Wait()

	if err := a.Close(); err != nil {
		t.Errorf("a.Close: %v", err)
	}
	b.Close() // both directions are already down

	if err := a.Send(nil); err == nil {
		t.Error("a.Send after close did not report an error")
	}
	if err := b.Send(nil); err == nil {
		t.Error("b.Send after close did not report an error")
	}
	if msg, err := a.Recv(); err == nil {
		t.Errorf("a.Recv after close: got %+v", msg)
	} else {
		t.Logf("Error OK: %v", err)
	}
	if msg, err := b.Recv(); err == nil {
		t.Errorf("b.Recv after close: got %+v", msg)
	} else {
		t.Logf("Error OK: %v", err)
	}
}

func TestDirectCloseUnblocks(t *testing.T) {
	a, b := channel.Direct()

	g := taskgroup.New(nil)
	got := make(chan error, 1)
	g.Go(func() error {
		_, err := b.Recv()
		got <- err
		return nil
	})

	// Closing one end tears down both directions, so the blocked receiver on
	// the other end observes the close.
	if err := a.Close(); err != nil {
		t.Errorf("a.Close: %v", err)
	}
	g.Wait()
	if err := <-got; err == nil {
		t.Error("b.Recv after peer close did not report an error")
	}
}

func TestIO(t *testing.T) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	ca := channel.IO(ar, aw)
	cb := channel.IO(br, bw)

	msg := &worker.Message{Op: worker.OpInvoke, Session: 9, Payload: worker.Invoke{Event: "ping"}.Encode()}

	g := taskgroup.New(nil)
	g.Go(func() error {
		if err := ca.Send(msg); err != nil {
			t.Errorf("A Send: %v", err)
		}
		return nil
	})
	got, err := cb.Recv()
	if err != nil {
		t.Fatalf("B Recv: %v", err)
	}
	g.Wait()
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("Message (-want, +got):\n%s", diff)
	}

	// Closing the writer ends the peer's receive stream.
	if err := ca.Close(); err != nil {
		t.Errorf("a.Close: %v", err)
	}
	if msg, err := cb.Recv(); err == nil {
		t.Errorf("B Recv after close: got %+v", msg)
	} else {
		t.Logf("Error OK: %v", err)
	}
}

func TestDialInvalid(t *testing.T) {
	ch, err := channel.Dial(nil)
	if ch != nil || !errors.Is(err, worker.ErrInvalidEndpoint) {
		t.Errorf("Dial(nil): got %v, %v; want nil, ErrInvalidEndpoint", ch, err)
	}
}
