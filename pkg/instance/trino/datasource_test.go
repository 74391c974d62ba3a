package trino

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	trinoclient "github.com/txn2/mcp-trino/pkg/client"

	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

// fakeOwner records registry removals.
type fakeOwner struct {
	removed []instance.ExecutionContext
}

func (o *fakeOwner) Name() string { return "test-instance" }

func (o *fakeOwner) Remove(ec instance.ExecutionContext) bool {
	o.removed = append(o.removed, ec)
	return true
}

// fakeClient stands in for a coordinator session.
type fakeClient struct {
	queries  []string
	queryErr error
	closeErr error
	closed   bool
}

func (f *fakeClient) Query(_ context.Context, sql string, _ trinoclient.QueryOptions) (*trinoclient.QueryResult, error) {
	f.queries = append(f.queries, sql)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &trinoclient.QueryResult{}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return f.closeErr
}

func baseConfig() Config {
	return Config{Host: "trino.internal", User: "app", Catalog: "hive", Schema: "default"}
}

func newFakeDataSource(t *testing.T, cfg Config) (*DataSource, *[]trinoclient.Config, *[]*fakeClient) {
	t.Helper()

	var dialed []trinoclient.Config
	var clients []*fakeClient
	ds, err := New("lake", cfg, WithDialer(func(cc trinoclient.Config) (queryClient, error) {
		dialed = append(dialed, cc)
		fc := &fakeClient{}
		clients = append(clients, fc)
		return fc, nil
	}))
	require.NoError(t, err)
	return ds, &dialed, &clients
}

func TestNew_Validation(t *testing.T) {
	_, err := New("lake", Config{User: "app"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")

	_, err = New("lake", Config{Host: "h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user is required")
}

func TestNew_Defaults(t *testing.T) {
	ds, err := New("lake", Config{Host: "h", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, defaultPlainPort, ds.cfg.Port)
	assert.Equal(t, defaultTimeout, ds.cfg.Timeout)

	ssl, err := New("lake", Config{Host: "h", User: "u", SSL: true})
	require.NoError(t, err)
	assert.Equal(t, defaultSSLPort, ssl.cfg.Port)
}

func TestDataSource_Capabilities(t *testing.T) {
	ds, err := New("lake", Config{Host: "h", User: "u", MetaSeparateConnection: true})
	require.NoError(t, err)

	assert.False(t, ds.Driver().IsEmbedded())
	assert.True(t, ds.Preferences().Bool(instance.PrefMetaSeparateConnection))
}

func TestContext_ConnectDialsCoordinator(t *testing.T) {
	cfg := baseConfig()
	cfg.Timeout = 5 * time.Second
	ds, dialed, _ := newFakeDataSource(t, cfg)

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{Initialize: true})
	require.NoError(t, err)
	assert.True(t, ec.Connected())

	require.Len(t, *dialed, 1)
	cc := (*dialed)[0]
	assert.Equal(t, "trino.internal", cc.Host)
	assert.Equal(t, "hive", cc.Catalog)
	assert.Equal(t, 5*time.Second, cc.Timeout)
	assert.Equal(t, clientSource, cc.Source)
}

func TestContext_ConnectIsolatedTagsQuerySource(t *testing.T) {
	ds, dialed, _ := newFakeDataSource(t, baseConfig())

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.IsolatedRole("schema scan"))
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{},
		instance.ConnectOptions{Purpose: "schema scan", Isolated: true})
	require.NoError(t, err)

	require.Len(t, *dialed, 1)
	assert.Equal(t, clientSource+":schema scan", (*dialed)[0].Source)
}

func TestContext_InitializeProbesCoordinator(t *testing.T) {
	ds, _, clients := newFakeDataSource(t, baseConfig())

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)
	require.NoError(t, ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{Initialize: true}))

	require.Len(t, *clients, 1)
	assert.Equal(t, []string{"SELECT 1"}, (*clients)[0].queries)
}

func TestContext_ProbeFailureClosesClient(t *testing.T) {
	ds, err := New("lake", baseConfig(), WithDialer(func(trinoclient.Config) (queryClient, error) {
		return &fakeClient{queryErr: errors.New("coordinator unavailable")}, nil
	}))
	require.NoError(t, err)

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{Initialize: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probing coordinator")
	assert.False(t, ec.Connected())
}

func TestContext_QueryRequiresConnection(t *testing.T) {
	ds, _, _ := newFakeDataSource(t, baseConfig())

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)

	_, err = ec.(*Context).Query(context.Background(), "SELECT 1", trinoclient.QueryOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestContext_CloseDeregisters(t *testing.T) {
	ds, _, clients := newFakeDataSource(t, baseConfig())

	owner := &fakeOwner{}
	ec, err := ds.CreateExecutionContext(owner, instance.RoleMain)
	require.NoError(t, err)
	require.NoError(t, ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{}))

	require.NoError(t, ec.Close())
	assert.False(t, ec.Connected())
	assert.True(t, (*clients)[0].closed)
	require.Len(t, owner.removed, 1)
}

func TestContext_CloseReportsClientError(t *testing.T) {
	ds, err := New("lake", baseConfig(), WithDialer(func(trinoclient.Config) (queryClient, error) {
		return &fakeClient{closeErr: errors.New("session already gone")}, nil
	}))
	require.NoError(t, err)

	owner := &fakeOwner{}
	ec, err := ds.CreateExecutionContext(owner, instance.RoleMain)
	require.NoError(t, err)
	require.NoError(t, ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{}))

	err = ec.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing")
	assert.Len(t, owner.removed, 1, "deregistration happens even when close fails")
}
