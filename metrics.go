// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package rdb

import "expvar"

// serverMetrics record protocol activity counters.
type serverMetrics struct {
	sessionsAccepted expvar.Int // connections accepted
	sessionsActive   expvar.Int // gauge
	authFailed       expvar.Int // handshakes rejected for version or passcode
	framesRecv       expvar.Int
	framesSent       expvar.Int
	commands         expvar.Int // requests dispatched
	commandsFailed   expvar.Int // requests that ended their session

	emap *expvar.Map
}

var rdbMetrics = newServerMetrics()

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{emap: new(expvar.Map)}
	m.emap.Set("sessions_accepted", &m.sessionsAccepted)
	m.emap.Set("sessions_active", &m.sessionsActive)
	m.emap.Set("auth_failed", &m.authFailed)
	m.emap.Set("frames_received", &m.framesRecv)
	m.emap.Set("frames_sent", &m.framesSent)
	m.emap.Set("commands", &m.commands)
	m.emap.Set("commands_failed", &m.commandsFailed)
	return m
}

// Metrics returns the metrics map shared by all sessions in the process. It
// is safe for the caller to add additional metrics to the map.
//
// The metrics currently exported include:
//
//   - sessions_accepted: counter of connections accepted
//   - sessions_active: gauge of sessions currently open
//   - auth_failed: counter of handshakes rejected
//   - frames_received: counter of request frames received
//   - frames_sent: counter of response frames sent
//   - commands: counter of requests dispatched
//   - commands_failed: counter of requests that failed
func Metrics() *expvar.Map { return rdbMetrics.emap }
