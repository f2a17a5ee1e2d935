// Package pool implements the per-backend connection pool: at most one live
// connection, reconnect with exponential backoff, and the claim/release
// contract the Collection Engine drives every tick.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/joyent/pgstatsmon/pgbackend"
)

// ErrPoolFailed is returned by Claim when every retry attempt failed.
var ErrPoolFailed = errors.New("pool failed to establish a connection")

// ErrClaimTimeout is returned by Claim when connect_timeout_ms elapsed
// before a healthy connection could be produced.
var ErrClaimTimeout = errors.New("claim timed out")

// ErrPoolStopping is returned by Claim once Stop has been called.
var ErrPoolStopping = errors.New("pool is stopping")

// state is the pool's internal lifecycle, following §4.C: Idle -> Claimed ->
// Idle on normal release; Claimed -> Broken on error/timeout; Broken ->
// Connecting -> Claimed (the new connection goes straight to the claimer) or
// Connecting -> Failed on reconnect attempts.
type state int

const (
	stateIdle state = iota
	stateClaimed
	stateBroken
	stateConnecting
	stateFailed
	stateStopped
)

const (
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Second
)

// Client is the subset of *pgbackend.Client the pool depends on. Declaring
// it as an interface here, rather than depending on the concrete type,
// lets tests substitute a fake backend without a real network dependency.
type Client interface {
	Connect(ctx context.Context) error
	Query(ctx context.Context, sql string, timeout time.Duration) ([]pgbackend.Row, error)
	IsDestroyed() bool
	Destroy(ctx context.Context) error
}

// Dialer builds a fresh Client for the pool to connect.
type Dialer func() Client

// Config carries the knobs from config.Connections that govern retry/backoff.
type Config struct {
	ConnectTimeout time.Duration
	ConnectRetries int
}

// Pool holds at most one live connection for a single backend.
type Pool struct {
	cfg    Config
	dial   Dialer
	mu     sync.Mutex
	state  state
	client Client
}

// New builds a Pool that dials via dial using cfg's retry/backoff limits.
func New(cfg Config, dial Dialer) *Pool {
	return &Pool{cfg: cfg, dial: dial, state: stateIdle}
}

// Handle is a claimed connection. The caller must call Release on success or
// Close on any error/timeout observed while using it.
type Handle struct {
	pool   *Pool
	client Client
}

// Client exposes the underlying single-connection wrapper for issuing
// queries.
func (h *Handle) Client() Client { return h.client }

// Release returns a healthy connection to the pool for reuse.
func (h *Handle) Release() {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	if h.pool.state == stateStopped {
		return
	}
	h.pool.state = stateIdle
}

// Close forcibly destroys the claimed connection rather than returning it to
// the pool, per §4.C: a connection that emitted an error or timed out must
// be closed, not released.
func (h *Handle) Close(ctx context.Context) {
	h.pool.mu.Lock()
	defer h.pool.mu.Unlock()

	_ = h.client.Destroy(ctx)
	h.pool.client = nil
	if h.pool.state != stateStopped {
		h.pool.state = stateBroken
	}
}

// Claim returns a handle to a healthy connection, reusing one if idle, or
// constructing one with retry/backoff bounded by cfg.ConnectRetries and the
// overall cfg.ConnectTimeout.
func (p *Pool) Claim(ctx context.Context) (*Handle, error) {
	p.mu.Lock()

	if p.state == stateStopped {
		p.mu.Unlock()
		return nil, ErrPoolStopping
	}

	if p.state == stateIdle && p.client != nil && !p.client.IsDestroyed() {
		p.state = stateClaimed
		h := &Handle{pool: p, client: p.client}
		p.mu.Unlock()
		return h, nil
	}
	p.state = stateConnecting
	p.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	client, err := p.connectWithRetry(cctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateStopped {
		if client != nil {
			_ = client.Destroy(context.Background())
		}
		return nil, ErrPoolStopping
	}

	if err != nil {
		p.state = stateFailed
		p.client = nil
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, ErrClaimTimeout
		}
		return nil, ErrPoolFailed
	}

	p.client = client
	p.state = stateClaimed
	return &Handle{pool: p, client: client}, nil
}

// connectWithRetry dials with doubling backoff (initial 1s, max 5s), giving
// up after 1 + cfg.ConnectRetries attempts or when ctx expires, whichever comes
// first. Mirrors the shape of a retry-with-backoff client constructor: each
// failure is logged by the caller via the returned error, not here.
func (p *Pool) connectWithRetry(ctx context.Context) (Client, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= p.cfg.ConnectRetries; attempt++ {
		client := p.dial()
		if err := client.Connect(ctx); err == nil {
			return client, nil
		} else {
			lastErr = err
		}

		if attempt == p.cfg.ConnectRetries {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, lastErr
}

// Stop transitions the pool to stateStopped and destroys any live
// connection, aborting any in-flight Claim with ErrPoolStopping.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = stateStopped
	if p.client != nil {
		_ = p.client.Destroy(ctx)
		p.client = nil
	}
}
