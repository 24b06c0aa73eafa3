// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker_test

import (
	"context"
	"io"
	"testing"
	"time"

	worker "github.com/nobodyisme/cocaine-worker"
	"github.com/nobodyisme/cocaine-worker/channel"
	"github.com/nobodyisme/cocaine-worker/handler"
	"github.com/nobodyisme/cocaine-worker/supervisor"
)

func BenchmarkInvoke(b *testing.B) {
	cfg := worker.Config{ID: "W-bench", Heartbeat: time.Minute, Disown: time.Minute}

	b.Run("Direct", func(b *testing.B) {
		loc, err := supervisor.NewLocal(cfg, supervisor.AutoHeartbeat())
		if err != nil {
			b.Fatal(err)
		}
		loc.W.Register("ping", handler.Func(ping))
		defer loc.Stop()

		runBench(b, loc.S)
	})

	b.Run("IO", func(b *testing.B) {
		sr, ww := io.Pipe()
		wr, sw := io.Pipe()
		s := supervisor.Attach(channel.IO(sr, sw), supervisor.AutoHeartbeat())
		w, err := worker.New(cfg)
		if err != nil {
			b.Fatal(err)
		}
		w.Register("ping", handler.Func(ping))
		w.Start(channel.IO(wr, ww))
		defer func() {
			w.Stop()
			s.Stop()
		}()

		runBench(b, s)
	})
}

// runBench drives ping round trips, each on a fresh session.
func runBench(b *testing.B, s *supervisor.Supervisor) {
	b.Helper()
	ctx := context.Background()

	var session uint64
	for b.Loop() {
		session++
		if err := s.Invoke(session, "ping"); err != nil {
			b.Fatal(err)
		}
		for {
			msg, err := s.Next(ctx)
			if err != nil {
				b.Fatal(err)
			}
			if msg.Op == worker.OpChoke && msg.Session == session {
				break
			}
		}
	}
}
