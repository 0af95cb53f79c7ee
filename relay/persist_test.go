package relay

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/metric"
	"github.com/c360/plyrelay/storage/filestore"
)

func TestStorePersister_WritesUUIDKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.New(dir)
	require.NoError(t, err)

	p := NewStorePersister(store, DefaultPersistConfig(), nil, nil, nil)
	require.NoError(t, p.Start(context.Background()))

	key, err := p.Persist("abc", []byte("ABC"))
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.ply$`, key)

	other, err := p.Persist("abc", []byte("ABC"))
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	require.NoError(t, p.Stop(5*time.Second))

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABC"), data)
	assert.Equal(t, int64(2), p.Stats().Processed)
}

func TestStorePersister_FailureIsNotRetried(t *testing.T) {
	store := newMemStore()
	store.failErr = errors.ErrStorageUnavailable

	registry := metric.NewMetricsRegistry()
	metrics := NewMetrics(registry)
	p := NewStorePersister(store, DefaultPersistConfig(), nil, metrics, registry)
	require.NoError(t, p.Start(context.Background()))

	_, err := p.Persist("s", []byte("data"))
	require.NoError(t, err, "queueing succeeds even though the write will fail")
	require.NoError(t, p.Stop(5*time.Second))

	assert.Equal(t, 1, store.putCount())
	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.persisted.WithLabelValues("error")))
}

func TestStorePersister_NotStarted(t *testing.T) {
	p := NewStorePersister(newMemStore(), DefaultPersistConfig(), nil, nil, nil)

	_, err := p.Persist("s", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestStorePersister_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	store := &blockingStore{memStore: newMemStore(), release: release}

	cfg := DefaultPersistConfig()
	cfg.Workers = 1
	p := NewStorePersister(store, cfg, nil, nil, nil)
	require.NoError(t, p.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			_, err := p.Persist("s", []byte("x"))
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Persist blocked on storage")
	}

	close(release)
	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, 3, store.putCount())
}

type blockingStore struct {
	*memStore
	release chan struct{}
}

func (s *blockingStore) Put(ctx context.Context, key string, data []byte) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.memStore.Put(ctx, key, data)
}
