// Package objectstore persists finalized streams in a NATS JetStream object
// store bucket.
//
// Connect dials the server with exponential backoff (pkg/retry, transient
// errors only), then opens the bucket and creates it when it does not exist
// yet:
//
//	store, err := objectstore.Connect(ctx, objectstore.Config{
//	    URL:    "nats://localhost:4222",
//	    Bucket: "PLY_FILES",
//	}, objectstore.WithLogger(logger), objectstore.WithMetricsRegistry(registry))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// New opens a bucket on a connection the caller already owns.
//
// # Semantics
//
// Put replaces the current object under a key; JetStream keeps the chunks of
// the previous version until they are purged. List has no server-side prefix
// filter, so it fetches every live object name and filters locally, which is
// O(objects in bucket).
//
// Get of a missing key wraps errors.ErrKeyNotFound. Delete of a missing key
// returns nil.
package objectstore
