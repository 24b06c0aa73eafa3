// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestUTF8Truncation(t *testing.T) {
	tests := []struct {
		input string
		size  int
		want  string
	}{
		{"", 1000, ""},                 // n > length
		{"abc", 4, "abc"},              // n > length
		{"abc", 3, "abc"},              // n == length
		{"abcdefg", 4, "abcd"},         // n < length, safe
		{"abcdefg", 0, ""},             // n < length, safe
		{"abc\U0001fc2d", 3, "abc"},    // n < length, at boundary
		{"abc\U0001fc2d", 4, "abc"},    // n < length, mid-rune
		{"abc\U0001fc2d", 5, "abc"},    // n < length, mid-rune
		{"abc\U0001fc2d", 6, "abc"},    // n < length, mid-rune
		{"abc\U0001fc2defg", 7, "abc"}, // n < length, cut multibyte
	}

	for _, tc := range tests {
		got := truncate(tc.input, tc.size)
		if got != tc.want {
			t.Errorf("truncate(%q, %d): got %q, want %q", tc.input, tc.size, got, tc.want)
		}

		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d): result %q is not valid UTF-8", tc.input, tc.size, got)
		}
	}
}

func TestSessionTable(t *testing.T) {
	tab := newSessionTable()

	if got := tab.state(1); got != sessionUnknown {
		t.Errorf("state(1): got %v, want unknown", got)
	}
	if _, ok := tab.lookup(1); ok {
		t.Error("lookup(1) on an empty table reported ok")
	}
	if _, ok := tab.choke(1); ok {
		t.Error("choke(1) on an empty table reported ok")
	}

	r1, r2 := newRequest(1), newRequest(2)
	tab.add(1, r1)
	tab.add(2, r2)

	if got := tab.state(1); got != sessionActive {
		t.Errorf("state(1): got %v, want active", got)
	}
	if got, ok := tab.lookup(2); !ok || got != r2 {
		t.Errorf("lookup(2): got %v, %v; want %v, true", got, ok, r2)
	}
	if diff := cmp.Diff([]uint64{1, 2}, tab.ids()); diff != "" {
		t.Errorf("ids (-want, +got):\n%s", diff)
	}

	// A duplicate add replaces the previous entry for the id.
	r1b := newRequest(1)
	tab.add(1, r1b)
	if got, _ := tab.lookup(1); got != r1b {
		t.Errorf("lookup(1) after duplicate add: got %v, want %v", got, r1b)
	}
	if got := tab.len(); got != 2 {
		t.Errorf("len: got %d, want 2", got)
	}

	if got, ok := tab.choke(1); !ok || got != r1b {
		t.Errorf("choke(1): got %v, %v; want %v, true", got, ok, r1b)
	}
	if got := tab.state(1); got != sessionUnknown {
		t.Errorf("state(1) after choke: got %v, want unknown", got)
	}

	tab.failAll(errors.New("going down"))
	if got := tab.len(); got != 0 {
		t.Errorf("len after failAll: got %d, want 0", got)
	}
	if _, err := r2.Read(context.Background()); err == nil || err.Error() != "going down" {
		t.Errorf("Read after failAll: got %v, want going down", err)
	}
}

func TestRequestStream(t *testing.T) {
	ctx := context.Background()
	r := newRequest(5)

	if got := r.Session(); got != 5 {
		t.Errorf("Session: got %d, want 5", got)
	}

	// Chunks are readable in push order, including after close.
	r.push([]byte("one"))
	r.push([]byte("two"))
	r.close()
	for _, want := range []string{"one", "two"} {
		got, err := r.Read(ctx)
		if err != nil {
			t.Fatalf("Read: unexpected error: %v", err)
		}
		if string(got) != want {
			t.Errorf("Read: got %q, want %q", got, want)
		}
	}
	if _, err := r.Read(ctx); err != io.EOF {
		t.Errorf("Read at end: got %v, want io.EOF", err)
	}
	if err := r.push([]byte("late")); err != errSessionDone {
		t.Errorf("push after close: got %v, want %v", err, errSessionDone)
	}

	t.Run("Error", func(t *testing.T) {
		r := newRequest(6)
		first, second := errors.New("first"), errors.New("second")
		r.fail(first)
		r.fail(second) // the first error wins
		if _, err := r.Read(ctx); err != first {
			t.Errorf("Read: got %v, want %v", err, first)
		}
		if err := r.push(nil); err != errSessionDone {
			t.Errorf("push after error: got %v, want %v", err, errSessionDone)
		}
	})

	t.Run("BlockedRead", func(t *testing.T) {
		r := newRequest(7)
		got := make(chan []byte, 1)
		go func() {
			chunk, err := r.Read(ctx)
			if err != nil {
				t.Errorf("Read: unexpected error: %v", err)
			}
			got <- chunk
		}()
		time.Sleep(5 * time.Millisecond) // let the reader block
		r.push([]byte("wakeup"))
		select {
		case chunk := <-got:
			if string(chunk) != "wakeup" {
				t.Errorf("Read: got %q, want wakeup", chunk)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for blocked read")
		}
	})

	t.Run("ContextEnds", func(t *testing.T) {
		r := newRequest(8)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Read(ctx); err != context.Canceled {
			t.Errorf("Read: got %v, want %v", err, context.Canceled)
		}
	})

	t.Run("All", func(t *testing.T) {
		r := newRequest(9)
		r.push([]byte("a"))
		r.push([]byte("b"))
		r.close()
		var got []string
		for chunk, err := range r.All(ctx) {
			if err != nil {
				t.Fatalf("All: unexpected error: %v", err)
			}
			got = append(got, string(chunk))
		}
		if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
			t.Errorf("All (-want, +got):\n%s", diff)
		}
	})

	t.Run("AllError", func(t *testing.T) {
		r := newRequest(10)
		r.push([]byte("a"))
		r.fail(errors.New("broken"))
		var got []string
		var gotErr error
		for chunk, err := range r.All(ctx) {
			if err != nil {
				gotErr = err
				continue
			}
			got = append(got, string(chunk))
		}
		if diff := cmp.Diff([]string{"a"}, got); diff != "" {
			t.Errorf("All (-want, +got):\n%s", diff)
		}
		if gotErr == nil || gotErr.Error() != "broken" {
			t.Errorf("All terminal error: got %v, want broken", gotErr)
		}
	})
}
