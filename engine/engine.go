// Package engine implements the Collection Engine: the tick scheduler,
// bounded fan-out over backends, per-(backend,query) execution, delta
// recorder, and backend lifecycle state machine that ties every other
// component together.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/joyent/pgstatsmon/bootstrap"
	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/discovery"
	"github.com/joyent/pgstatsmon/metrics"
	"github.com/joyent/pgstatsmon/pgbackend"
	"github.com/joyent/pgstatsmon/pool"
	"github.com/joyent/pgstatsmon/utils"
)

// fanOut is the fixed fan-out limit from §4.F: at most 10 backends are
// actively being queried at the same instant.
const fanOut = 10

// teardownBackoffAttempts/teardownBackoffInitial implement §5's "wait with
// two exponential-backoff attempts starting at 1s" before tearing down a
// removed backend's state, proceeding regardless if it never drains.
const (
	teardownBackoffAttempts = 2
	teardownBackoffInitial  = time.Second
)

// Config carries every knob the engine needs that isn't already captured by
// the discovery Source or the metric Registry. Per-backend address/port/
// database come from discovery.Backend, not here; fixed labels are applied
// once at metrics.New(), not per tick.
type Config struct {
	IntervalMs         int64
	QueryTimeout       time.Duration
	ConnectTimeout     time.Duration
	ConnectRetries     int
	MonitoringUser     string
	MonitoringPassword string
	Superuser          bootstrap.SuperuserConfig
}

// Engine is the Collection Engine: it owns discovery, the per-backend
// registry, the metric Registry, and the tick timer.
type Engine struct {
	cfg      Config
	catalog  []catalog.Query
	registry *metrics.Registry
	source   discovery.Source
	limiter  *utils.RateLimit

	mu       sync.Mutex
	backends map[string]*backendState

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Engine. cat is validated lazily on first GetApplicableQueries
// call (by bootstrap), not here, matching catalog's own "validate on every
// call" contract (§4.A).
func New(cfg Config, cat []catalog.Query, registry *metrics.Registry, source discovery.Source) *Engine {
	return &Engine{
		cfg:      cfg,
		catalog:  cat,
		registry: registry,
		source:   source,
		limiter:  utils.NewRateLimit(fanOut),
		backends: make(map[string]*backendState),
		stopCh:   make(chan struct{}),
	}
}

// Start brings up the discovery event loop and the tick timer. It does not
// block; call Stop to shut down.
func (e *Engine) Start() {
	e.ticker = time.NewTicker(time.Duration(e.cfg.IntervalMs) * time.Millisecond)

	e.wg.Add(1)
	go utils.GoWithRecovery(func() {
		defer e.wg.Done()
		e.runDiscoveryLoop()
	}, nil)

	e.wg.Add(1)
	go utils.GoWithRecovery(func() {
		defer e.wg.Done()
		e.runTickLoop()
	}, nil)
}

// Stop cancels the timer, drains, and closes every backend's pool.
func (e *Engine) Stop() {
	close(e.stopCh)
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.source.Stop()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bs := range e.backends {
		bs.pool.Stop(context.Background())
	}
}

func (e *Engine) runDiscoveryLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case ev := <-e.source.Added():
			e.addBackend(ev.Key, ev.Backend)
		case key := <-e.source.Removed():
			e.removeBackend(key)
		}
	}
}

func (e *Engine) runTickLoop() {
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.ticker.C:
			e.tick(context.Background())
		}
	}
}

func (e *Engine) addBackend(key string, backend discovery.Backend) {
	dialer := func() pool.Client {
		return pgbackend.New(e.connString(backend))
	}
	p := pool.New(pool.Config{ConnectTimeout: e.cfg.ConnectTimeout, ConnectRetries: e.cfg.ConnectRetries}, dialer)

	bs := newBackendState(key, backend, p)

	e.mu.Lock()
	e.backends[key] = bs
	e.mu.Unlock()

	log.Info("backend discovered", zap.String("key", key), zap.String("backend", backend.DisplayName))
}

func (e *Engine) removeBackend(key string) {
	e.mu.Lock()
	bs, ok := e.backends[key]
	if ok {
		delete(e.backends, key)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	bs.setLifecycle(lifecycleDraining)
	e.waitForDrain(bs)
	bs.setLifecycle(lifecycleGone)
	bs.pool.Stop(context.Background())
	log.Info("backend removed", zap.String("key", key))
}

// waitForDrain implements §5's teardown backoff: two attempts at 1s,
// doubling, proceeding regardless of whether in_flight ever empties.
func (e *Engine) waitForDrain(bs *backendState) {
	utils.WithRetryBackoff(context.Background(), teardownBackoffAttempts, teardownBackoffInitial, func(uint) bool {
		return bs.inFlightCount() == 0
	})
}

// connString builds the monitoring user's connection string to backend.
func (e *Engine) connString(backend discovery.Backend) string {
	return buildConnString(backend.Address, backend.Port, backend.TargetDatabase, e.cfg.MonitoringUser, e.cfg.MonitoringPassword)
}

// Tick runs one collection round; exported so tests can invoke it directly
// without waiting on the ticker (§4.F contract: start/tick/stop).
func (e *Engine) Tick(ctx context.Context) {
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	backends := make([]*backendState, 0, len(e.backends))
	for _, bs := range e.backends {
		backends = append(backends, bs)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, bs := range backends {
		bs := bs
		wg.Add(1)
		go utils.GoWithRecovery(func() {
			defer wg.Done()
			if exit := e.limiter.GetToken(e.stopCh); exit {
				return
			}
			defer e.limiter.PutToken()
			e.runBackendTask(ctx, bs)
		}, func(r interface{}) {
			if r != nil {
				log.Error("panic running backend task", zap.String("backend", bs.key))
			}
		})
	}
	wg.Wait()
}

func (e *Engine) runBackendTask(ctx context.Context, bs *backendState) {
	if !bs.taskMu.TryLock() {
		log.Warn("tick overlapped a still in-flight backend task, skipping", zap.String("backend", bs.key))
		e.registry.AddCounter("pg_tick_overlap", "ticks skipped because the previous tick was still in flight", e.backendLabels(bs), 1)
		return
	}
	defer bs.taskMu.Unlock()

	if bs.needsSetup.Load() {
		e.runBootstrap(ctx, bs)
		return
	}
	if bs.standby.Load() {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	handle, err := bs.pool.Claim(cctx)
	cancel()
	if err != nil {
		e.registry.AddCounter("pg_connect_error", "connection claim failures", e.backendLabels(bs), 1)
		return
	}

	queries := bs.snapshotQueries()

	var barrier sync.WaitGroup
	barrier.Add(len(queries))
	anyTimeout := false
	for _, q := range queries {
		if e.runQuery(ctx, handle.Client(), bs, q) {
			anyTimeout = true
		}
		barrier.Done()
	}
	barrier.Wait()

	if anyTimeout {
		handle.Close(ctx)
	} else {
		handle.Release()
	}
}

func (e *Engine) runBootstrap(ctx context.Context, bs *backendState) {
	if !bs.settingUp.CompareAndSwap(false, true) {
		return
	}
	defer bs.settingUp.Store(false)

	res, err := bootstrap.Run(
		ctx,
		bs.backend.Address,
		bs.backend.Port,
		bs.backend.TargetDatabase,
		e.cfg.MonitoringUser,
		e.cfg.Superuser,
		e.catalog,
		e.cfg.IntervalMs,
	)
	if err != nil {
		if errors.Is(err, bootstrap.ErrInRecovery) {
			bs.standby.Store(true)
			bs.needsSetup.Store(false)
			bs.setLifecycle(lifecycleBootstrapped)
			log.Info("backend is a standby, skipping collection until rediscovered",
				zap.String("backend", bs.key))
			return
		}
		log.Warn("bootstrap failed, retrying next tick", zap.String("backend", bs.key), zap.Error(err))
		return
	}

	bs.setQueries(res.Queries)
	bs.serverVersion.Store(res.ServerVersionNum)
	bs.needsSetup.Store(false)
	bs.setLifecycle(lifecycleActive)
	log.Info("backend bootstrapped", zap.String("backend", bs.key), zap.Int64("server_version_num", res.ServerVersionNum))
}

// runQuery runs one (backend, query) execution and records its outcome.
// It returns true if the terminal event was a QueryTimeout, telling the
// caller to close rather than release the connection.
func (e *Engine) runQuery(ctx context.Context, client pool.Client, bs *backendState, q catalog.ResolvedQuery) bool {
	bs.setInFlight(q.Name, time.Now())
	defer bs.clearInFlight(q.Name)

	start := time.Now()
	rows, err := client.Query(ctx, q.SQL, e.cfg.QueryTimeout)
	if err != nil {
		labels := e.queryLabels(bs, q.Name)
		if errors.Is(err, pgbackend.ErrQueryTimeout) {
			_ = e.registry.AddCounter("pg_query_timeout", "queries that exceeded their deadline", labels, 1)
			return true
		}
		_ = e.registry.AddCounter("pg_query_error", "queries that returned an error", labels, 1)
		log.Debug("query error", zap.String("backend", bs.key), zap.String("query", q.Name), zap.Error(err))
		return false
	}

	if client.IsDestroyed() {
		return false
	}

	e.recordDelta(bs, q, rows)

	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
	_ = e.registry.ObserveHistogram(
		q.Name+"_querytime_ms",
		"time spent executing "+q.Name,
		e.backendLabels(bs),
		elapsedMs,
	)
	_ = e.registry.AddCounter("pg_query_count", "queries executed", e.backendLabels(bs), 1)
	return false
}

func (e *Engine) backendLabels(bs *backendState) map[string]string {
	return map[string]string{"backend": bs.backend.DisplayName}
}

func (e *Engine) queryLabels(bs *backendState, queryName string) map[string]string {
	return map[string]string{"backend": bs.backend.DisplayName, "query": queryName}
}
