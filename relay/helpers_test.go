package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/plyrelay/session"
)

var connSeq atomic.Int64

// fakeConn is a scripted connection. Frames pushed to in are returned by
// Receive; closing in ends the stream with endErr.
type fakeConn struct {
	id     string
	in     chan Frame
	endErr error

	mu     sync.Mutex
	sent   []session.Payload
	closed bool
	code   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:     fmt.Sprintf("fake-%d", connSeq.Add(1)),
		in:     make(chan Frame, 64),
		endErr: session.ErrConnClosed,
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Receive(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return Frame{}, c.endErr
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) SendText(_ context.Context, text string) error {
	return c.record(session.Text(text))
}

func (c *fakeConn) SendBinary(_ context.Context, data []byte) error {
	return c.record(session.Binary(append([]byte(nil), data...)))
}

func (c *fakeConn) record(p session.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return session.ErrConnClosed
	}
	c.sent = append(c.sent, p)
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

func (c *fakeConn) sendText(s string) { c.in <- Frame{Kind: FrameText, Text: s} }

func (c *fakeConn) sendBinary(b []byte) { c.in <- Frame{Kind: FrameBinary, Data: b} }

func (c *fakeConn) hangUp() { close(c.in) }

func (c *fakeConn) payloads() []session.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Payload(nil), c.sent...)
}

func (c *fakeConn) texts() []string {
	var out []string
	for _, p := range c.payloads() {
		if p.Kind == session.PayloadText {
			out = append(out, p.Text)
		}
	}
	return out
}

func (c *fakeConn) closeCode() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code
}

// recordingPersister captures persisted buffers synchronously.
type recordingPersister struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (p *recordingPersister) Persist(source string, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.data == nil {
		p.data = map[string][]byte{}
	}
	p.data[source] = append([]byte(nil), data...)
	return source + ".ply", nil
}

func (p *recordingPersister) get(source string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.data[source]
	return d, ok
}

// memStore is an in-memory storage.Store that can be told to fail.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (s *memStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failErr != nil {
		return s.failErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: not found", key)
	}
	return d, nil
}

func (s *memStore) List(_ context.Context, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
