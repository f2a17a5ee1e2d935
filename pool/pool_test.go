package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joyent/pgstatsmon/pgbackend"
)

type fakeClient struct {
	connectErr error
	destroyed  bool
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }
func (f *fakeClient) Query(ctx context.Context, sql string, timeout time.Duration) ([]pgbackend.Row, error) {
	return nil, nil
}
func (f *fakeClient) IsDestroyed() bool { return f.destroyed }
func (f *fakeClient) Destroy(ctx context.Context) error {
	f.destroyed = true
	return nil
}

func TestClaimReturnsHealthyConnectionOnFirstTry(t *testing.T) {
	p := New(Config{ConnectTimeout: time.Second, ConnectRetries: 2}, func() Client {
		return &fakeClient{}
	})

	h, err := p.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestClaimReusesIdleConnection(t *testing.T) {
	calls := 0
	p := New(Config{ConnectTimeout: time.Second, ConnectRetries: 0}, func() Client {
		calls++
		return &fakeClient{}
	})

	h1, err := p.Claim(context.Background())
	require.NoError(t, err)
	h1.Release()

	h2, err := p.Claim(context.Background())
	require.NoError(t, err)
	require.Same(t, h1.client, h2.client)
	require.Equal(t, 1, calls)
}

func TestClaimRetriesThenFails(t *testing.T) {
	p := New(Config{ConnectTimeout: 3 * time.Second, ConnectRetries: 1}, func() Client {
		return &fakeClient{connectErr: context.DeadlineExceeded}
	})

	_, err := p.Claim(context.Background())
	require.ErrorIs(t, err, ErrPoolFailed)
}

func TestClaimAfterStopFails(t *testing.T) {
	p := New(Config{ConnectTimeout: time.Second, ConnectRetries: 0}, func() Client {
		return &fakeClient{}
	})
	p.Stop(context.Background())

	_, err := p.Claim(context.Background())
	require.ErrorIs(t, err, ErrPoolStopping)
}

func TestHandleCloseMarksBrokenAndDestroysClient(t *testing.T) {
	var created *fakeClient
	p := New(Config{ConnectTimeout: time.Second, ConnectRetries: 0}, func() Client {
		created = &fakeClient{}
		return created
	})

	h, err := p.Claim(context.Background())
	require.NoError(t, err)
	first := created

	h.Close(context.Background())
	require.True(t, first.destroyed)

	h2, err := p.Claim(context.Background())
	require.NoError(t, err)
	require.NotSame(t, first, h2.client)
}
