package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/plyrelay/errors"
	"github.com/c360/plyrelay/metric"
)

var connSeq atomic.Int64

type fakeConn struct {
	id string

	mu       sync.Mutex
	received []Payload
	closed   bool
	code     int

	failErr error
	onSend  func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: fmt.Sprintf("conn-%d", connSeq.Add(1))}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendText(_ context.Context, text string) error {
	return c.record(Text(text))
}

func (c *fakeConn) SendBinary(_ context.Context, data []byte) error {
	return c.record(Binary(data))
}

func (c *fakeConn) record(p Payload) error {
	if c.onSend != nil {
		c.onSend()
	}
	if c.failErr != nil {
		return c.failErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	c.received = append(c.received, p)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.code = code
	}
	return nil
}

func (c *fakeConn) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.received {
		if p.Kind == PayloadText {
			out = append(out, p.Text)
		}
	}
	return out
}

func (c *fakeConn) payloads() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Payload(nil), c.received...)
}

func (c *fakeConn) closeCode() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code
}

func TestRegistry_ConnectAndDisconnect(t *testing.T) {
	r := NewRegistry()
	producer := newFakeConn()
	consumer := newFakeConn()

	r.ConnectProducer("abc", producer)
	r.ConnectConsumer("abc", consumer)

	p, c := r.Counts("abc")
	assert.Equal(t, 1, p)
	assert.Equal(t, 1, c)
	assert.Equal(t, Stats{Sessions: 1, Producers: 1, Consumers: 1}, r.Stats())

	r.DisconnectProducer("abc", producer)
	r.DisconnectConsumer("abc", consumer)

	assert.Equal(t, Stats{}, r.Stats(), "session key should be removed with its last member")
}

func TestRegistry_DisconnectAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn()

	assert.NotPanics(t, func() {
		r.DisconnectConsumer("missing", conn)
		r.DisconnectProducer("missing", conn)
	})

	r.ConnectConsumer("abc", conn)
	r.DisconnectConsumer("abc", conn)
	assert.NotPanics(t, func() {
		r.DisconnectConsumer("abc", conn)
	})

	other := newFakeConn()
	r.ConnectConsumer("abc", other)
	// Producer-side removal of a consumer handle must not touch the consumer set.
	r.DisconnectProducer("abc", other)
	_, consumers := r.Counts("abc")
	assert.Equal(t, 1, consumers)
}

func TestRegistry_BroadcastEmptySession(t *testing.T) {
	r := NewRegistry()

	report := r.BroadcastReport(context.Background(), "nobody", Text("hello"))
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, report.Delivered())
	assert.Equal(t, Stats{}, r.Stats(), "broadcast must not create sessions")
}

func TestRegistry_BroadcastPreservesKind(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeConn(), newFakeConn()
	r.ConnectConsumer("s", a)
	r.ConnectConsumer("s", b)

	ctx := context.Background()
	r.Broadcast(ctx, "s", Text("hello"))
	r.Broadcast(ctx, "s", Binary([]byte{0x01, 0x02}))

	for _, conn := range []*fakeConn{a, b} {
		got := conn.payloads()
		require.Len(t, got, 2)
		assert.Equal(t, Text("hello"), got[0])
		assert.Equal(t, PayloadBinary, got[1].Kind)
		assert.Equal(t, []byte{0x01, 0x02}, got[1].Data)
	}
}

func TestRegistry_BroadcastOnlyReachesOwnSession(t *testing.T) {
	r := NewRegistry()
	mine, theirs := newFakeConn(), newFakeConn()
	r.ConnectConsumer("mine", mine)
	r.ConnectConsumer("theirs", theirs)

	r.Broadcast(context.Background(), "mine", Text("x"))

	assert.Equal(t, []string{"x"}, mine.texts())
	assert.Empty(t, theirs.texts())
}

func TestRegistry_ProducersDoNotReceiveBroadcasts(t *testing.T) {
	r := NewRegistry()
	producer := newFakeConn()
	r.ConnectProducer("s", producer)

	report := r.BroadcastReport(context.Background(), "s", Text("x"))

	assert.Empty(t, report.Results)
	assert.Empty(t, producer.texts())
}

func TestRegistry_FailedConsumerIsEvicted(t *testing.T) {
	metrics := metric.NewMetricsRegistry()
	r := NewRegistry(WithMetricsRegistry(metrics))

	healthy := newFakeConn()
	broken := newFakeConn()
	broken.failErr = errors.ErrConnectionLost

	r.ConnectConsumer("s", healthy)
	r.ConnectConsumer("s", broken)

	var report Report
	assert.NotPanics(t, func() {
		report = r.BroadcastReport(context.Background(), "s", Text("first"))
	})

	require.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Delivered())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, broken.ID(), failed[0].ConnID)
	assert.ErrorIs(t, failed[0].Err, errors.ErrConnectionLost)

	closed, code := broken.closeCode()
	assert.True(t, closed)
	assert.Equal(t, CloseInternalError, code)

	_, consumers := r.Counts("s")
	assert.Equal(t, 1, consumers)

	r.Broadcast(context.Background(), "s", Text("second"))
	assert.Equal(t, []string{"first", "second"}, healthy.texts())

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.evictions))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.broadcastSends.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.broadcastSends.WithLabelValues("failure")))
}

func TestRegistry_BroadcastUsesSnapshot(t *testing.T) {
	r := NewRegistry()

	late := newFakeConn()
	early := newFakeConn()
	// The late consumer registers while the broadcast is mid-send.
	early.onSend = func() {
		r.ConnectConsumer("s", late)
	}
	r.ConnectConsumer("s", early)

	report := r.BroadcastReport(context.Background(), "s", Text("first"))

	assert.Len(t, report.Results, 1)
	assert.Equal(t, []string{"first"}, early.texts())
	assert.Empty(t, late.texts(), "consumer registered after the snapshot must not receive it")

	early.onSend = nil
	r.Broadcast(context.Background(), "s", Text("second"))
	assert.Equal(t, []string{"second"}, late.texts())
}

func TestRegistry_SlowConsumerDoesNotBlockRegistration(t *testing.T) {
	r := NewRegistry()

	release := make(chan struct{})
	entered := make(chan struct{})
	slow := newFakeConn()
	slow.onSend = func() {
		close(entered)
		<-release
	}
	r.ConnectConsumer("s", slow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Broadcast(context.Background(), "s", Text("x"))
	}()

	<-entered
	registered := make(chan struct{})
	go func() {
		other := newFakeConn()
		r.ConnectConsumer("s", other)
		r.DisconnectConsumer("s", other)
		r.ConnectProducer("unrelated", other)
		close(registered)
	}()

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("registration blocked behind a stalled send")
	}

	close(release)
	<-done
}

func TestRegistry_ConcurrentProducersKeepOwnOrder(t *testing.T) {
	r := NewRegistry()
	consumers := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range consumers {
		r.ConnectConsumer("shared", c)
	}

	const perProducer = 200
	producers := []string{"p1", "p2"}

	var wg sync.WaitGroup
	for _, name := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				r.Broadcast(context.Background(), "shared", Text(fmt.Sprintf("%s:%04d", name, i)))
			}
		}()
	}
	wg.Wait()

	for _, c := range consumers {
		got := c.texts()
		require.Len(t, got, perProducer*len(producers))

		next := map[string]int{}
		for _, msg := range got {
			name, num, ok := strings.Cut(msg, ":")
			require.True(t, ok)
			seq, err := strconv.Atoi(num)
			require.NoError(t, err)
			assert.Equal(t, next[name], seq, "producer %s out of order at consumer %s", name, c.ID())
			next[name] = seq + 1
		}
	}
}

func TestRegistry_ChurnDoesNotLeakKeys(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				session := fmt.Sprintf("s-%d", i%7)
				conn := newFakeConn()
				if i%2 == 0 {
					r.ConnectProducer(session, conn)
					r.Broadcast(context.Background(), session, Text("x"))
					r.DisconnectProducer(session, conn)
				} else {
					r.ConnectConsumer(session, conn)
					r.DisconnectConsumer(session, conn)
					r.DisconnectConsumer(session, conn)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, Stats{}, r.Stats())
}

func TestRegistry_ConnectDuringRemovalIsNotLost(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	keepers := make([]*fakeConn, 50)
	for i := range keepers {
		keepers[i] = newFakeConn()
		transient := newFakeConn()
		r.ConnectConsumer("s", transient)

		wg.Add(2)
		go func() {
			defer wg.Done()
			r.DisconnectConsumer("s", transient)
		}()
		go func() {
			defer wg.Done()
			r.ConnectConsumer("s", keepers[i])
		}()
		wg.Wait()
	}

	_, consumers := r.Counts("s")
	assert.Equal(t, len(keepers), consumers)
	assert.Len(t, r.Consumers("s"), len(keepers))
}

func TestRegistry_Close(t *testing.T) {
	metrics := metric.NewMetricsRegistry()
	r := NewRegistry(WithMetricsRegistry(metrics))

	conn := newFakeConn()
	r.ConnectConsumer("a", conn)
	r.ConnectProducer("b", newFakeConn())
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.sessionsActive))

	r.Close()

	assert.Equal(t, Stats{}, r.Stats())
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.sessionsActive))
	closed, _ := conn.closeCode()
	assert.False(t, closed, "registry does not own connections")

	assert.NotPanics(t, func() { r.DisconnectConsumer("a", conn) })
	r.ConnectConsumer("a", conn)
	_, consumers := r.Counts("a")
	assert.Equal(t, 1, consumers)
}

func TestRegistry_ClosedConsumerIsDroppedWithoutClose(t *testing.T) {
	metrics := metric.NewMetricsRegistry()
	r := NewRegistry(WithMetricsRegistry(metrics))

	live := newFakeConn()
	gone := newFakeConn()
	gone.failErr = fmt.Errorf("%w: %v", ErrConnClosed, context.Canceled)

	r.ConnectConsumer("s", live)
	r.ConnectConsumer("s", gone)

	report := r.BroadcastReport(context.Background(), "s", Text("frame"))
	require.Len(t, report.Failed(), 1)

	closed, _ := gone.closeCode()
	assert.False(t, closed, "an already closed consumer is not closed again with 1011")

	_, consumers := r.Counts("s")
	assert.Equal(t, 1, consumers)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.evictions))
}

func TestRegistry_SendLimitBoundsFanOut(t *testing.T) {
	const limit = 2
	r := NewRegistry(WithSendLimit(limit))

	var inFlight, peak atomic.Int64
	onSend := func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}

	conns := make([]*fakeConn, 8)
	for i := range conns {
		conns[i] = newFakeConn()
		conns[i].onSend = onSend
		r.ConnectConsumer("s", conns[i])
	}

	report := r.BroadcastReport(context.Background(), "s", Text("x"))
	assert.Equal(t, len(conns), report.Delivered())
	assert.LessOrEqual(t, peak.Load(), int64(limit))
	for _, c := range conns {
		assert.Equal(t, []string{"x"}, c.texts())
	}
}
