// Copyright (C) 2013-2014 Anton Tyurin and contributors. All Rights Reserved.

package worker

import "expvar"

// metrics record worker activity counters.
type metrics struct {
	messagesRecv    expvar.Int
	messagesSent    expvar.Int
	messagesDropped expvar.Int
	invokesIn       expvar.Int // number of INVOKE messages dispatched
	invokesFailed   expvar.Int // number of dispatches reporting an error
	heartbeatSent   expvar.Int
	heartbeatRecv   expvar.Int
	disowns         expvar.Int
	terminates      expvar.Int
	sessionsActive  expvar.Int // gauge of live session table entries

	emap *expvar.Map
}

var workerMetrics = newMetrics()

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("messages_received", &m.messagesRecv)
	m.emap.Set("messages_sent", &m.messagesSent)
	m.emap.Set("messages_dropped", &m.messagesDropped)
	m.emap.Set("invokes_in", &m.invokesIn)
	m.emap.Set("invokes_failed", &m.invokesFailed)
	m.emap.Set("heartbeats_sent", &m.heartbeatSent)
	m.emap.Set("heartbeats_received", &m.heartbeatRecv)
	m.emap.Set("disowns", &m.disowns)
	m.emap.Set("terminates", &m.terminates)
	m.emap.Set("sessions_active", &m.sessionsActive)
	return m
}
