package engine

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/discovery"
	"github.com/joyent/pgstatsmon/pgbackend"
	"github.com/joyent/pgstatsmon/pool"
)

// lifecycle is the explicit backend state machine enum from §9: preferred
// over polymorphism for a small, closed set of states.
type lifecycle int32

const (
	lifecycleUnknown lifecycle = iota
	lifecycleDiscovered
	lifecycleBootstrapped
	lifecycleActive
	lifecycleDraining
	lifecycleGone
)

func (l lifecycle) String() string {
	switch l {
	case lifecycleUnknown:
		return "unknown"
	case lifecycleDiscovered:
		return "discovered"
	case lifecycleBootstrapped:
		return "bootstrapped"
	case lifecycleActive:
		return "active"
	case lifecycleDraining:
		return "draining"
	case lifecycleGone:
		return "gone"
	default:
		return "invalid"
	}
}

// backendState is the runtime state for one discovered backend (§3).
// needsSetup/settingUp/serverVersion/standby are touched from both the tick
// scheduler and the bootstrapper goroutine, so they are lock-free atomics;
// queries and lastRows are touched only by the single task currently
// owning this backend (enforced by taskMu), so a plain mutex covers them.
type backendState struct {
	key     string
	backend discovery.Backend
	pool    *pool.Pool

	needsSetup    atomic.Bool
	settingUp     atomic.Bool
	standby       atomic.Bool
	serverVersion atomic.Int64
	state         atomic.Int32

	taskMu sync.Mutex

	mu       sync.Mutex
	queries  []catalog.ResolvedQuery
	lastRows map[string]map[string]pgbackend.Row // query name -> row key -> row
	inFlight map[string]time.Time                // query name -> start time
}

func newBackendState(key string, backend discovery.Backend, p *pool.Pool) *backendState {
	bs := &backendState{
		key:      key,
		backend:  backend,
		pool:     p,
		lastRows: make(map[string]map[string]pgbackend.Row),
		inFlight: make(map[string]time.Time),
	}
	bs.needsSetup.Store(true)
	bs.state.Store(int32(lifecycleDiscovered))
	return bs
}

func (bs *backendState) lifecycle() lifecycle {
	return lifecycle(bs.state.Load())
}

func (bs *backendState) setLifecycle(l lifecycle) {
	bs.state.Store(int32(l))
}

func (bs *backendState) snapshotQueries() []catalog.ResolvedQuery {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.queries
}

func (bs *backendState) setQueries(queries []catalog.ResolvedQuery) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.queries = queries
}

func (bs *backendState) setInFlight(queryName string, t time.Time) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.inFlight[queryName] = t
}

func (bs *backendState) clearInFlight(queryName string) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	delete(bs.inFlight, queryName)
}

func (bs *backendState) inFlightCount() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return len(bs.inFlight)
}

func (bs *backendState) previousRows(queryName string) map[string]pgbackend.Row {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.lastRows[queryName]
}

func (bs *backendState) storeRows(queryName string, rows map[string]pgbackend.Row) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.lastRows[queryName] = rows
}
