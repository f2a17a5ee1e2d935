package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/discovery"
)

func TestLifecycleString(t *testing.T) {
	cases := map[lifecycle]string{
		lifecycleUnknown:      "unknown",
		lifecycleDiscovered:   "discovered",
		lifecycleBootstrapped: "bootstrapped",
		lifecycleActive:       "active",
		lifecycleDraining:     "draining",
		lifecycleGone:         "gone",
		lifecycle(99):         "invalid",
	}
	for l, want := range cases {
		require.Equal(t, want, l.String())
	}
}

func TestBackendStateStartsDiscoveredAndNeedingSetup(t *testing.T) {
	bs := newTestBackend("pg0")
	require.True(t, bs.needsSetup.Load())
	require.Equal(t, lifecycleDiscovered, bs.lifecycle())
}

func TestBackendStateInFlightBookkeeping(t *testing.T) {
	bs := newTestBackend("pg0")
	require.Equal(t, 0, bs.inFlightCount())

	bs.setInFlight("pg_stat_user_tables", time.Now())
	require.Equal(t, 1, bs.inFlightCount())

	bs.clearInFlight("pg_stat_user_tables")
	require.Equal(t, 0, bs.inFlightCount())
}

func TestBackendStateQueriesSnapshot(t *testing.T) {
	bs := newTestBackend("pg0")
	require.Empty(t, bs.snapshotQueries())

	resolved := []catalog.ResolvedQuery{{Query: catalog.Query{Name: "pg_stat_user_tables"}, SQL: "select 1"}}
	bs.setQueries(resolved)
	require.Equal(t, resolved, bs.snapshotQueries())
}

func TestBackendStateDiscoveryFields(t *testing.T) {
	bs := newBackendState("pg0", discovery.Backend{DisplayName: "pg0", Address: "10.0.0.1"}, nil)
	require.Equal(t, "pg0", bs.backend.DisplayName)
	require.Equal(t, "10.0.0.1", bs.backend.Address)
}
