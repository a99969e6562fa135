package hypervisor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// poolEntry is one pooled connection plus its last-verified-alive time.
type poolEntry struct {
	client   *Client
	lastPing time.Time
}

// Pool maintains one reusable connection per libvirt URI, so concurrent
// range operations against the same host share a connection instead of
// each dialing libvirt independently. A connection idle past IdleTimeout
// is re-pinged on its next acquire and redialed only if that ping fails;
// idle connections are evicted only by EvictIdle.
type Pool struct {
	mu          sync.Mutex
	conns       map[string]*poolEntry
	socketPaths map[string]string
	dialTimeout time.Duration
	idleTimeout time.Duration
}

// NewPool constructs an empty connection pool. dialTimeout bounds each
// Connect call; idleTimeout is how long a pooled connection may go
// unverified before Acquire re-pings it.
func NewPool(dialTimeout, idleTimeout time.Duration) *Pool {
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	if idleTimeout == 0 {
		idleTimeout = 30 * time.Second
	}
	return &Pool{
		conns:       make(map[string]*poolEntry),
		socketPaths: make(map[string]string),
		dialTimeout: dialTimeout,
		idleTimeout: idleTimeout,
	}
}

// Acquire returns a live connection for socketPath, reusing a pooled one if
// it has been pinged within idleTimeout, otherwise reconnecting.
func (p *Pool) Acquire(ctx context.Context, socketPath string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.conns[socketPath]
	if ok {
		if time.Since(entry.lastPing) < p.idleTimeout {
			return entry.client, nil
		}
		if err := entry.client.Ping(); err == nil {
			entry.lastPing = time.Now()
			return entry.client, nil
		}
		_ = entry.client.Close()
		delete(p.conns, socketPath)
	}

	client, err := ConnectWithContext(ctx, socketPath, p.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("pool: failed to connect to %s: %w", socketPath, err)
	}

	p.conns[socketPath] = &poolEntry{client: client, lastPing: time.Now()}
	return client, nil
}

// Release is a no-op placeholder for callers following an acquire/release
// pattern; connections are kept warm in the pool rather than closed per use.
func (p *Pool) Release(*Client) {}

// EvictIdle closes and drops every pooled connection that has not been
// verified within idleTimeout. Intended to be called periodically by a
// caller that wants to bound the pool's held file descriptors.
func (p *Pool) EvictIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for uri, entry := range p.conns {
		if time.Since(entry.lastPing) >= p.idleTimeout {
			_ = entry.client.Close()
			delete(p.conns, uri)
			evicted++
		}
	}
	return evicted
}

// CloseAll closes every pooled connection. Call during process shutdown.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for uri, entry := range p.conns {
		if err := entry.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, uri)
	}
	return firstErr
}
