// Connection pool for the client.
//
// The protocol is strict request/response per connection — the agent never
// replies out of order — so a connection is borrowed exclusively for the
// duration of one call and then returned. A buffered channel serves as the
// pool: it is a natural FIFO queue, concurrency-safe, with blocking on
// empty built in.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

var errPoolClosed = errors.New("connection pool closed")

// connPool manages reusable TCP connections to a single agent.
type connPool struct {
	mu       sync.Mutex
	conns    chan *poolConn           // Buffered channel as pool — FIFO, goroutine-safe
	maxConns int                      // Maximum number of connections
	curConns int                      // Currently created connections (may be < maxConns)
	closed   bool                     // Set by closeAll; get/put fail afterwards
	factory  func() (net.Conn, error) // Connection factory function
}

// poolConn wraps a net.Conn with pool metadata.
type poolConn struct {
	net.Conn
	unusable bool // Marked true when the connection encounters an error
}

// newConnPool creates a pool with the given max size. Connections are
// created lazily — the pool starts empty and grows on demand.
func newConnPool(maxConns int, factory func() (net.Conn, error)) *connPool {
	return &connPool{
		conns:    make(chan *poolConn, maxConns),
		maxConns: maxConns,
		factory:  factory,
	}
}

// get retrieves a connection from the pool.
// Strategy:
//  1. Try to get an existing connection from the channel (non-blocking select)
//  2. If the pool is empty but under limit, create a new connection
//  3. If the pool is empty and at limit, wait until one is returned, the
//     pool is closed, or ctx expires
//
// put never enqueues an unusable connection, so anything received from the
// channel is good to use.
func (p *connPool) get(ctx context.Context) (*poolConn, error) {
	select {
	case conn, ok := <-p.conns:
		if !ok {
			return nil, errPoolClosed
		}
		return conn, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	under := p.curConns < p.maxConns
	p.mu.Unlock()
	if under {
		return p.createNew()
	}

	// At capacity — block until a connection is returned.
	select {
	case conn, ok := <-p.conns:
		if !ok {
			return nil, errPoolClosed
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// put returns a connection to the pool. A connection marked unusable is
// closed and discarded instead, as is one returned after the pool was
// closed.
func (p *connPool) put(conn *poolConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn.unusable || p.closed {
		conn.Close()
		p.curConns--
		return
	}
	// Never blocks: at most maxConns connections exist and the channel
	// holds that many.
	p.conns <- conn
}

// closeAll shuts down the pool and closes pooled connections. Connections
// still borrowed are closed when returned via put. Idempotent.
func (p *connPool) closeAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.conns)
	for conn := range p.conns {
		conn.Close()
		p.curConns--
	}
	return nil
}

// createNew creates a connection via the factory. Protected by the mutex so
// concurrent callers cannot exceed maxConns.
func (p *connPool) createNew() (*poolConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errPoolClosed
	}
	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("connection pool exhausted")
	}

	netConn, err := p.factory()
	if err != nil {
		return nil, err
	}

	p.curConns++
	return &poolConn{Conn: netConn}, nil
}
