// Package relay implements the per-connection behaviour of the point-cloud
// relay on top of a session.Registry.
//
// The Dispatcher classifies each accepted connection once, from its role and
// session path segments, into one of four routes:
//
//	consumer                       -> ConsumerRelay
//	producer, session == output    -> Ingestor in ModeRefined
//	producer, any other session    -> Ingestor in ModeDefault
//	anything else                  -> closed with 1008, nothing registered
//
// An Ingestor broadcasts every text frame to its session's consumers as it
// arrives and keeps it. When the producer goes away, cleanly or not, the
// Finalizer concatenates the frames, broadcasts the result to the output
// session as binary chunks of at most Config.ChunkSize bytes followed by a
// single end sentinel, and hands the buffer to a Persister. StorePersister
// writes it as "<uuid>.ply" from a worker pool, so the connection finishes
// closing without waiting for storage.
package relay
