package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStaticEmitsOnePerEntry(t *testing.T) {
	src := NewStatic(StaticConfig{
		Dbs: []StaticEntry{
			{Name: "pg0", IP: "10.0.0.1"},
			{Name: "pg1", IP: "10.0.0.2"},
		},
		BackendPort: 5432,
		Database:    "postgres",
	})

	seen := make(map[string]AddedEvent)
	for i := 0; i < 2; i++ {
		ev := <-src.Added()
		seen[ev.Key] = ev
	}

	require.Len(t, seen, 2)
	require.Equal(t, "10.0.0.1", seen["pg0"].Backend.Address)
	require.Equal(t, 5432, seen["pg1"].Backend.Port)
	require.Equal(t, "postgres", seen["pg0"].Backend.TargetDatabase)

	select {
	case <-src.Removed():
		t.Fatal("static source must never emit removed")
	default:
	}
}
