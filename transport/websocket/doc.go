// Package websocket is the relay's network edge: a gorilla/websocket server
// that upgrades GET {prefix}/{role}/{dataStream} and hands every connection to
// a Handler, normally *relay.Dispatcher, on the request goroutine.
//
// Conn adapts a gorilla connection to relay.Conn. Writes are serialized per
// connection and bounded by the configured write deadline, so one slow
// consumer delays only the broadcast that is writing to it. Close frames
// 1000, 1001, 1005 and 1006 surface from Receive as session.ErrConnClosed;
// read limit violations, deadlines and protocol errors surface as transient
// transport faults.
//
// The server pings every connection each PingInterval and drops peers that
// have not answered for two intervals. Stop closes open connections with
// 1001 and waits for their handlers, which gives producers the chance to
// finalize their streams before the process exits.
//
// When a health.Monitor is supplied the server registers a "websocket" check
// and serves the aggregate on GET /healthz.
package websocket
