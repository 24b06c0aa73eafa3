// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import "slices"

// sessionState describes what the session table knows about a session id.
type sessionState int

const (
	// sessionUnknown: no record for the id. CHUNK, CHOKE, and ERROR for an
	// unknown id are benign no-ops, never an error.
	sessionUnknown sessionState = iota

	// sessionActive: the id has a live entry whose continuation sink receives
	// chunk, choke, and error notifications.
	sessionActive
)

// A sessionTable maps session ids to the continuation sink of each live
// session. It owns session records exclusively; the engine never holds a
// session reference outside the table. There is at most one live entry per
// id at any time.
//
// The table is not safe for concurrent use; the engine guards it with its
// state lock.
type sessionTable struct {
	m map[uint64]*Request
}

func newSessionTable() *sessionTable {
	return &sessionTable{m: make(map[uint64]*Request)}
}

// state reports what the table knows about the session id.
func (t *sessionTable) state(id uint64) sessionState {
	if _, ok := t.m[id]; ok {
		return sessionActive
	}
	return sessionUnknown
}

// add inserts a live entry for id. A duplicate INVOKE replaces the previous
// entry, matching the single-entry invariant.
func (t *sessionTable) add(id uint64, sink *Request) { t.m[id] = sink }

// lookup returns the sink for a live entry, if one exists.
func (t *sessionTable) lookup(id uint64) (*Request, bool) {
	sink, ok := t.m[id]
	return sink, ok
}

// choke transitions Active → removed, returning the sink that should be
// signaled end-of-stream. For an unknown id it reports false and the table
// is unchanged.
func (t *sessionTable) choke(id uint64) (*Request, bool) {
	sink, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return sink, ok
}

// len reports the number of live entries.
func (t *sessionTable) len() int { return len(t.m) }

// ids returns the live session ids in ascending order.
func (t *sessionTable) ids() []uint64 {
	out := make([]uint64, 0, len(t.m))
	for id := range t.m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// failAll delivers err to every live sink and empties the table. It is used
// on the engine's terminate path so handlers blocked on a read resume.
func (t *sessionTable) failAll(err error) {
	for id, sink := range t.m {
		sink.fail(err)
		delete(t.m, id)
	}
}
