// Package storage defines the Store interface and key rules shared by the
// persistence backends.
//
// Two implementations exist:
//
//   - filestore: one file per key under a local directory, written through a
//     temporary file and renamed into place.
//   - objectstore: a NATS JetStream object store bucket.
//
// The relay writes every finalized stream as "<uuid>.ply" through whichever
// backend the configuration selects.
package storage
