package pgbackend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSQLCollapsesWhitespace(t *testing.T) {
	in := "SELECT  a,\n\tb\n  FROM t"
	require.Equal(t, "SELECT a, b FROM t", normalizeSQL(in))
}

func TestQueryBeforeConnectFails(t *testing.T) {
	c := New("postgres://localhost:1/nonexistent")
	_, err := c.Query(context.Background(), "SELECT 1", time.Second)
	require.Error(t, err)
}

func TestDestroyIsIdempotent(t *testing.T) {
	c := New("postgres://localhost:1/nonexistent")
	require.NoError(t, c.Destroy(context.Background()))
	require.True(t, c.IsDestroyed())
	require.NoError(t, c.Destroy(context.Background()))
}

func TestQueryAfterDestroyFails(t *testing.T) {
	c := New("postgres://localhost:1/nonexistent")
	require.NoError(t, c.Destroy(context.Background()))

	_, err := c.Query(context.Background(), "SELECT 1", time.Second)
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestConnectAfterDestroyFails(t *testing.T) {
	c := New("postgres://localhost:1/nonexistent")
	require.NoError(t, c.Destroy(context.Background()))

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrDestroyed)
}
