package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Connection pool limits.
const (
	// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
	MaxConnectionPoolLimit = 100

	// DefaultMaxConnections is used when no pool size is configured.
	DefaultMaxConnections = 10
)

// ErrPoolClosed is returned by Get once the pool has been closed.
var ErrPoolClosed = errors.New("connection pool is closed")

// PoolStats contains connection pool statistics.
type PoolStats struct {
	Max     int
	Active  int64
	Idle    int
	Created int64
	Errors  int64
	Uptime  time.Duration
}

// ConnectionPool hands out independent Connections, each to a single
// holder at a time. Capabilities discovered by one connection are shared
// with connections created later.
type ConnectionPool struct {
	cfg  ConnectionConfig
	opts []Option
	max  int

	slots chan struct{}
	idle  chan *Connection

	mu           sync.Mutex
	closed       bool
	caps         *Capabilities
	discoveryErr error

	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// NewConnectionPool validates cfg and creates an empty pool. Connections are
// opened on demand.
func NewConnectionPool(ctx context.Context, cfg *ConnectionConfig, maxConnections int, opts ...Option) (*ConnectionPool, error) {
	if maxConnections == 0 {
		maxConnections = DefaultMaxConnections
	}
	if maxConnections < 1 || maxConnections > MaxConnectionPoolLimit {
		return nil, fmt.Errorf("%w: max connections must be between 1 and %d, got %d", ErrConfig, MaxConnectionPoolLimit, maxConnections)
	}

	// Validate once up front so Get only fails on I/O.
	probe, err := NewConnection(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	p := &ConnectionPool{
		cfg:       probe.cfg,
		opts:      opts,
		max:       maxConnections,
		slots:     make(chan struct{}, maxConnections),
		idle:      make(chan *Connection, maxConnections),
		startTime: time.Now(),
	}

	tflog.SubsystemDebug(ctx, Subsystem, "Connection pool created", map[string]any{
		"max_connections": maxConnections,
		"servers":         probe.urls,
	})
	return p, nil
}

// Config returns the effective connection configuration.
func (p *ConnectionPool) Config() ConnectionConfig {
	return p.cfg
}

// Get checks a connection out of the pool, waiting for a free slot when all
// connections are in use. The connection must be handed back with Release.
func (p *ConnectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	default:
		LogPoolEvent(ctx, "pool_exhausted", map[string]any{"max_connections": p.max})
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.isClosed() {
		<-p.slots
		return nil, ErrPoolClosed
	}

	select {
	case conn := <-p.idle:
		p.share(conn)
		atomic.AddInt64(&p.activeConns, 1)
		LogPoolEvent(ctx, "connection_reused", nil)
		return &PooledConnection{Connection: conn, pool: p}, nil
	default:
	}

	conn, err := NewConnection(ctx, &p.cfg, p.opts...)
	if err != nil {
		atomic.AddInt64(&p.totalErrors, 1)
		<-p.slots
		return nil, err
	}

	p.share(conn)
	atomic.AddInt64(&p.totalCreated, 1)
	atomic.AddInt64(&p.activeConns, 1)
	LogPoolEvent(ctx, "connection_created", map[string]any{"total_created": atomic.LoadInt64(&p.totalCreated)})
	return &PooledConnection{Connection: conn, pool: p}, nil
}

// With runs fn on a pooled connection. Connections are discarded rather
// than reused when fn reports a connection failure.
func (p *ConnectionPool) With(ctx context.Context, fn func(*Connection) error) error {
	pc, err := p.Get(ctx)
	if err != nil {
		return err
	}

	err = fn(pc.Connection)
	if err != nil && (IsConnectionError(err) || errors.Is(err, ErrConnect) || errors.Is(err, ErrStartTLS)) {
		atomic.AddInt64(&p.totalErrors, 1)
		pc.Discard(ctx)
		return err
	}

	pc.Release(ctx)
	return err
}

func (p *ConnectionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// share hands capabilities discovered earlier to conn.
func (p *ConnectionPool) share(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn.caps == nil && p.caps != nil {
		conn.caps, conn.discoveryErr = p.caps, p.discoveryErr
	}
}

func (p *ConnectionPool) adopt(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.caps == nil && conn.caps != nil {
		p.caps, p.discoveryErr = conn.caps, conn.discoveryErr
	}
}

func (p *ConnectionPool) release(ctx context.Context, conn *Connection, reuse bool) {
	atomic.AddInt64(&p.activeConns, -1)
	p.adopt(conn)

	if reuse && !conn.closed && !p.isClosed() {
		select {
		case p.idle <- conn:
			LogPoolEvent(ctx, "connection_released", nil)
			<-p.slots
			return
		default:
		}
	}

	_ = conn.Close()
	LogPoolEvent(ctx, "connection_discarded", nil)
	<-p.slots
}

// Close closes all idle connections. Connections still checked out are
// closed when they are released.
func (p *ConnectionPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			_ = conn.Close()
		default:
			LogPoolEvent(ctx, "pool_closed", map[string]any{"total_created": atomic.LoadInt64(&p.totalCreated)})
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *ConnectionPool) Stats() PoolStats {
	return PoolStats{
		Max:     p.max,
		Active:  atomic.LoadInt64(&p.activeConns),
		Idle:    len(p.idle),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}

// PooledConnection is a Connection checked out of a ConnectionPool.
type PooledConnection struct {
	*Connection
	pool *ConnectionPool
	once sync.Once
}

// Release hands the connection back for reuse.
func (pc *PooledConnection) Release(ctx context.Context) {
	pc.once.Do(func() { pc.pool.release(ctx, pc.Connection, true) })
}

// Discard closes the connection and frees its slot.
func (pc *PooledConnection) Discard(ctx context.Context) {
	pc.once.Do(func() { pc.pool.release(ctx, pc.Connection, false) })
}
