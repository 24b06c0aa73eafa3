// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	worker "github.com/nobodyisme/cocaine-worker"
	"github.com/nobodyisme/cocaine-worker/handler"
	"github.com/nobodyisme/cocaine-worker/supervisor"
)

type tvText string

func (v tvText) MarshalText() ([]byte, error)     { return []byte(v), nil }
func (v *tvText) UnmarshalText(data []byte) error { *v = tvText(data); return nil }

type tvBinary string

func (v tvBinary) MarshalBinary() ([]byte, error)     { return []byte(v), nil }
func (v *tvBinary) UnmarshalBinary(data []byte) error { *v = tvBinary(data); return nil }

func TestAdapters(t *testing.T) {
	defer leaktest.Check(t)()

	loc, err := supervisor.NewLocal(worker.Config{
		ID:        "W-handler",
		Heartbeat: time.Minute,
		Disown:    time.Minute,
	}, supervisor.AutoHeartbeat())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	defer func() {
		if st := loc.Stop(); st != nil {
			t.Errorf("Stop: got status %v, want nil", st)
		}
	}()

	var session uint64

	// invoke opens a session for event, feeds it param if non-nil, and
	// returns the response chunks received before the session ended. A
	// session ending in an ERROR reports it as the error result.
	invoke := func(t *testing.T, event string, param []byte) ([]byte, error) {
		t.Helper()
		session++
		if err := loc.S.Invoke(session, event); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if param != nil {
			if err := loc.S.Chunk(session, param); err != nil {
				t.Fatalf("Chunk: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var got []byte
		for {
			msg, err := loc.S.Next(ctx)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			switch {
			case msg.Session != session:
				// handshake, heartbeats, stale traffic
			case msg.Op == worker.OpChunk:
				got = append(got, msg.Payload...)
			case msg.Op == worker.OpChoke:
				return got, nil
			case msg.Op == worker.OpError:
				var e worker.ErrorInfo
				if err := e.Decode(msg.Payload); err != nil {
					t.Fatalf("Decode error payload: %v", err)
				}
				return got, errors.New(e.Text)
			}
		}
	}

	check := func(t *testing.T, event string, param []byte, want, etext string) {
		t.Helper()
		got, err := invoke(t, event, param)
		if err != nil {
			if err.Error() != etext {
				t.Fatalf("Invoke %q: got error %v, want %q", event, err, etext)
			}
		} else if etext != "" {
			t.Fatalf("Invoke %q: got %q, want error %q", event, got, etext)
		} else if string(got) != want {
			t.Errorf("Invoke %q: got %q, want %q", event, got, want)
		}
	}

	loc.W.RegisterAll(map[string]any{
		"pre/string": handler.ParamResultError(func(ctx context.Context, s string) (string, error) {
			return s + "-ok", nil
		}),
		"pre/bytes": handler.ParamResultError(func(ctx context.Context, b []byte) ([]byte, error) {
			return append(b, '!'), nil
		}),
		"pre/text": handler.ParamResultError(func(ctx context.Context, v tvText) ([]byte, error) {
			return []byte(v + "-ok"), nil
		}),
		"pre/binary": handler.ParamResultError(func(ctx context.Context, v tvBinary) (tvText, error) {
			return tvText(v + "-ok"), nil
		}),
		"pre/fail": handler.ParamResultError(func(ctx context.Context, s string) (string, error) {
			return "", errors.New("bad robot")
		}),
		"pe/ok": handler.ParamError(func(ctx context.Context, s string) error {
			if s != "input" {
				return errors.New("wrong parameter")
			}
			return nil
		}),
		"re/ok": handler.ResultError(func(ctx context.Context) (string, error) {
			return "constant", nil
		}),
		"stream/panic": handler.Stream(func(ctx context.Context, req *worker.Request, rsp *worker.Response) error {
			panic("deliberate panic")
		}),
	})

	t.Run("PRE", func(t *testing.T) {
		t.Run("StringString", func(t *testing.T) { check(t, "pre/string", []byte("input"), "input-ok", "") })
		t.Run("BytesBytes", func(t *testing.T) { check(t, "pre/bytes", []byte("input"), "input!", "") })
		t.Run("TextByte", func(t *testing.T) { check(t, "pre/text", []byte("input"), "input-ok", "") })
		t.Run("BinaryText", func(t *testing.T) { check(t, "pre/binary", []byte("input"), "input-ok", "") })
		t.Run("Error", func(t *testing.T) { check(t, "pre/fail", []byte("input"), "", "bad robot") })
	})
	t.Run("PE", func(t *testing.T) {
		check(t, "pe/ok", []byte("input"), "", "")
	})
	t.Run("RE", func(t *testing.T) {
		check(t, "re/ok", nil, "constant", "")
	})
	t.Run("Panic", func(t *testing.T) {
		check(t, "stream/panic", nil, "", "handler panicked (recovered): deliberate panic")
	})
}
