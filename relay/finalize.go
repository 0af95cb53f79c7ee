package relay

import (
	"context"
	"log/slog"

	"github.com/c360/plyrelay/session"
)

// Persister accepts a finished stream for durable storage. Persist must not
// block on I/O; it returns the key the data will be stored under, or an error
// if the job could not even be queued.
type Persister interface {
	Persist(source string, data []byte) (key string, err error)
}

// Chunk splits data into consecutive slices of at most size bytes. The slices
// share data's backing array. Empty input yields no chunks.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end:end])
	}
	return chunks
}

// Assemble concatenates text frames in receipt order.
func Assemble(frames []string) []byte {
	size := 0
	for _, f := range frames {
		size += len(f)
	}
	buf := make([]byte, 0, size)
	for _, f := range frames {
		buf = append(buf, f...)
	}
	return buf
}

// Finalizer turns the frames of a closed producer into a chunked broadcast on
// the output session and hands the full buffer to the persister.
type Finalizer struct {
	registry  *session.Registry
	persister Persister
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
}

// NewFinalizer creates a finalizer. A nil persister skips persistence.
func NewFinalizer(registry *session.Registry, persister Persister, cfg Config, logger *slog.Logger, metrics *Metrics) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{
		registry:  registry,
		persister: persister,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Finalize assembles frames, queues the buffer for persistence, then
// broadcasts it to the output session as binary chunks followed by the end
// sentinel. Broadcast failures never stop the remaining chunks or the
// sentinel. It returns the number of chunks sent.
func (f *Finalizer) Finalize(ctx context.Context, source string, frames []string) int {
	buf := Assemble(frames)

	if f.persister != nil {
		key, err := f.persister.Persist(source, buf)
		if err != nil {
			f.logger.Error("persistence not scheduled", "session", source, "bytes", len(buf), "error", err)
		} else {
			f.logger.Debug("persistence scheduled", "session", source, "key", key, "bytes", len(buf))
		}
	}

	chunks := Chunk(buf, f.cfg.ChunkSize)
	for _, chunk := range chunks {
		f.registry.Broadcast(ctx, f.cfg.OutputSession, session.Binary(chunk))
	}
	f.registry.Broadcast(ctx, f.cfg.OutputSession, session.Text(f.cfg.EndSentinel))

	f.metrics.streamFinalized(len(chunks))
	f.logger.Info("stream finalized",
		"session", source,
		"frames", len(frames),
		"bytes", len(buf),
		"chunks", len(chunks),
		"output_session", f.cfg.OutputSession)

	return len(chunks)
}
