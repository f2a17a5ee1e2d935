package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/discovery"
	"github.com/joyent/pgstatsmon/metrics"
)

func TestConnStringIncludesUserAndDatabase(t *testing.T) {
	s := buildConnString("10.0.0.1", 5432, "postgres", "monitor", "secret")
	require.Contains(t, s, "10.0.0.1:5432")
	require.Contains(t, s, "/postgres")
	require.Contains(t, s, "monitor")
}

func TestAddBackendRegistersDiscoveredBackend(t *testing.T) {
	reg := metrics.New(nil)
	defer reg.Stop()

	e := New(Config{ConnectTimeout: time.Second}, catalog.Catalog, reg, discovery.NewStatic(discovery.StaticConfig{}))
	e.addBackend("pg0", discovery.Backend{DisplayName: "pg0", Address: "10.0.0.1", Port: 5432, TargetDatabase: "postgres"})

	e.mu.Lock()
	bs, ok := e.backends["pg0"]
	e.mu.Unlock()

	require.True(t, ok)
	require.Equal(t, lifecycleDiscovered, bs.lifecycle())
	require.True(t, bs.needsSetup.Load())
}

func TestRemoveBackendDrainsAndForgets(t *testing.T) {
	reg := metrics.New(nil)
	defer reg.Stop()

	e := New(Config{ConnectTimeout: time.Second}, catalog.Catalog, reg, discovery.NewStatic(discovery.StaticConfig{}))
	e.addBackend("pg0", discovery.Backend{DisplayName: "pg0"})

	e.removeBackend("pg0")

	e.mu.Lock()
	_, ok := e.backends["pg0"]
	e.mu.Unlock()
	require.False(t, ok)
}

func TestRunBackendTaskSkipsOverlappingTick(t *testing.T) {
	reg := metrics.New(nil)
	defer reg.Stop()

	e := New(Config{ConnectTimeout: time.Second}, catalog.Catalog, reg, discovery.NewStatic(discovery.StaticConfig{}))
	bs := newTestBackend("pg0")
	bs.needsSetup.Store(false)
	bs.standby.Store(true) // short-circuits before any real pool.Claim

	bs.taskMu.Lock()
	e.runBackendTask(context.Background(), bs)
	bs.taskMu.Unlock()

	// runBackendTask returned immediately (TryLock failed) rather than
	// blocking on the already-held taskMu; reaching this line is the
	// assertion.
}

func TestRunBackendTaskSkipsStandby(t *testing.T) {
	reg := metrics.New(nil)
	defer reg.Stop()

	e := New(Config{ConnectTimeout: time.Second}, catalog.Catalog, reg, discovery.NewStatic(discovery.StaticConfig{}))
	bs := newTestBackend("pg0")
	bs.needsSetup.Store(false)
	bs.standby.Store(true)

	e.runBackendTask(context.Background(), bs)
	require.Equal(t, 0, bs.inFlightCount())
}

func TestStartStopDoesNotLeakGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := metrics.New(nil)
	defer reg.Stop()

	e := New(Config{IntervalMs: 50, ConnectTimeout: time.Second}, catalog.Catalog, reg, discovery.NewStatic(discovery.StaticConfig{}))
	e.Start()
	time.Sleep(75 * time.Millisecond)
	e.Stop()
}
