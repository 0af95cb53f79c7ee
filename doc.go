// Package plyrelay relays LiDAR point clouds in PLY text form between
// WebSocket producers and consumers.
//
// # Architecture
//
//	producer ─► /ws/producer/{dataStream}            /ws/consumer/{dataStream} ─► consumers
//	                   │                                          ▲
//	                   ▼                                          │
//	          ┌─────────────────┐   text frames, as received  ┌───┴────────────┐
//	          │  relay.Ingestor ├────────────────────────────►│session.Registry│
//	          └────────┬────────┘                             └───┬────────────┘
//	                   │ on close: concatenate                    │
//	                   ▼                                          ▼
//	          ┌─────────────────┐  ≤64 KiB chunks + "__END__"  consumers of
//	          │ relay.Finalizer ├─────────────────────────────► "plyStream"
//	          └────────┬────────┘
//	                   │ queued, never awaited
//	                   ▼
//	          ┌─────────────────────┐      ┌───────────────────────────────┐
//	          │ relay.StorePersister├─────►│ storage/filestore  <uuid>.ply │
//	          │   (pkg/worker pool) │      │ storage/objectstore (NATS)    │
//	          └─────────────────────┘      └───────────────────────────────┘
//
// A producer connected to the reserved "plyStream" session is a refined
// producer: it is registered as a consumer of that session, its binary frames
// are echoed back to it and its text frames reach every plyStream consumer,
// itself included. Any role other than producer or consumer is closed with
// 1008.
//
// # Packages
//
//   - session: connection registry and concurrent broadcast
//   - relay: role dispatch, producer and consumer state machines, finalization, persistence
//   - transport/websocket: gorilla/websocket server and connection adapter
//   - storage, storage/filestore, storage/objectstore: persistence backends
//   - config: layered JSON/YAML configuration with PLYRELAY_ environment overrides
//   - metric, health: Prometheus metrics and the /healthz report
//   - errors: classified errors (transient, invalid, fatal)
//   - pkg/worker, pkg/retry: worker pool and backoff helpers
//
// # Binary
//
//	go build ./cmd/plyrelay
//	./plyrelay --config relay.yaml --log-format text
package plyrelay
