// Package session tracks which connections belong to which relay session and
// fans payloads out to a session's consumers.
//
// A Registry is created once at startup and passed to every connection
// handler. Producers and consumers register under an opaque session string;
// the key disappears when its last member leaves, so memory grows with the
// number of live sessions rather than with connection churn.
//
// Broadcast takes a snapshot of the consumer set, sends to every member
// without holding any lock, and evicts consumers whose send failed. Callers
// never see send errors:
//
//	registry := session.NewRegistry(session.WithLogger(logger))
//	registry.ConnectConsumer("abc", conn)
//	registry.Broadcast(ctx, "abc", session.Text("A"))
package session
