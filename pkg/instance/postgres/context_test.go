package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-dbinstance/pkg/instance"
)

const testServerVersion = "16.3"

// fakeOwner records registry removals.
type fakeOwner struct {
	removed []instance.ExecutionContext
}

func (o *fakeOwner) Name() string { return "test-instance" }

func (o *fakeOwner) Remove(ec instance.ExecutionContext) bool {
	o.removed = append(o.removed, ec)
	return true
}

func newMockDataSource(t *testing.T, cfg Config) (*DataSource, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	ds, err := New("warehouse", cfg, WithOpener(func(string) (*sql.DB, error) {
		return db, nil
	}))
	require.NoError(t, err)
	return ds, mock
}

func baseConfig() Config {
	return Config{Host: "db.internal", User: "app", Database: "warehouse"}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing host", cfg: Config{User: "app", Database: "db"}, wantErr: "host is required"},
		{name: "missing user", cfg: Config{Host: "h", Database: "db"}, wantErr: "user is required"},
		{name: "missing database", cfg: Config{Host: "h", User: "app"}, wantErr: "database is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("x", tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDataSource_DSN(t *testing.T) {
	ds, err := New("warehouse", Config{
		Host:     "db.internal",
		User:     "app",
		Password: "p ss'wd",
		Database: "warehouse",
		SSLMode:  "verify-full",
	})
	require.NoError(t, err)

	dsn := ds.dsn()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5432", "default port applied")
	assert.Contains(t, dsn, "dbname=warehouse")
	assert.Contains(t, dsn, `password='p ss\'wd'`, "values with spaces and quotes are quoted")
	assert.Contains(t, dsn, "sslmode=verify-full")
}

func TestDataSource_Capabilities(t *testing.T) {
	ds, err := New("warehouse", Config{Host: "h", User: "u", Database: "d", MetaSeparateConnection: true})
	require.NoError(t, err)

	assert.False(t, ds.Driver().IsEmbedded())
	assert.True(t, ds.Preferences().Bool(instance.PrefMetaSeparateConnection))
	assert.False(t, ds.Preferences().Bool("unknown.preference"))
}

func TestCreateExecutionContext_DistinctNames(t *testing.T) {
	ds, err := New("warehouse", baseConfig())
	require.NoError(t, err)

	owner := &fakeOwner{}
	a, err := ds.CreateExecutionContext(owner, instance.IsolatedRole("scan"))
	require.NoError(t, err)
	b, err := ds.CreateExecutionContext(owner, instance.IsolatedRole("scan"))
	require.NoError(t, err)

	assert.NotEqual(t, a.Name(), b.Name())
	assert.Equal(t, instance.IsolatedRole("scan"), a.Role())
	assert.False(t, a.Connected())
}

func TestContext_ConnectMain(t *testing.T) {
	ds, mock := newMockDataSource(t, baseConfig())
	mock.ExpectPing()
	mock.ExpectQuery("SHOW server_version").
		WillReturnRows(sqlmock.NewRows([]string{"server_version"}).AddRow(testServerVersion))

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{Initialize: true})
	require.NoError(t, err)
	assert.True(t, ec.Connected())
	assert.Equal(t, testServerVersion, ec.(*Context).ServerVersion())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContext_ConnectMetaOnlySetsReadOnly(t *testing.T) {
	ds, mock := newMockDataSource(t, baseConfig())
	mock.ExpectPing()
	mock.ExpectExec("SET default_transaction_read_only").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SHOW server_version").
		WillReturnRows(sqlmock.NewRows([]string{"server_version"}).AddRow(testServerVersion))

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMetadata)
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{},
		instance.ConnectOptions{MetaOnly: true, Initialize: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContext_ConnectIsolatedNamesSession(t *testing.T) {
	ds, mock := newMockDataSource(t, baseConfig())
	mock.ExpectPing()
	mock.ExpectExec("SET application_name").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SHOW server_version").
		WillReturnRows(sqlmock.NewRows([]string{"server_version"}).AddRow(testServerVersion))

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.IsolatedRole("bulk export"))
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{},
		instance.ConnectOptions{Purpose: "bulk export", Isolated: true, Initialize: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContext_ConnectPingFailure(t *testing.T) {
	ds, mock := newMockDataSource(t, baseConfig())
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)

	err = ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{Initialize: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging")
	assert.False(t, ec.Connected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContext_ConnectIdempotent(t *testing.T) {
	ds, mock := newMockDataSource(t, baseConfig())
	mock.ExpectPing()

	ec, err := ds.CreateExecutionContext(&fakeOwner{}, instance.RoleMain)
	require.NoError(t, err)

	require.NoError(t, ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{}))
	require.NoError(t, ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{}),
		"second connect is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContext_CloseDeregisters(t *testing.T) {
	ds, mock := newMockDataSource(t, baseConfig())
	mock.ExpectPing()
	mock.ExpectClose()

	owner := &fakeOwner{}
	ec, err := ds.CreateExecutionContext(owner, instance.RoleMain)
	require.NoError(t, err)
	require.NoError(t, ec.Connect(context.Background(), instance.NoopMonitor{}, instance.ConnectOptions{}))

	require.NoError(t, ec.Close())
	assert.False(t, ec.Connected())
	require.Len(t, owner.removed, 1)
	assert.Same(t, ec.(*Context), owner.removed[0].(*Context))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContext_CloseUnconnectedOnlyDeregisters(t *testing.T) {
	ds, err := New("warehouse", baseConfig())
	require.NoError(t, err)

	owner := &fakeOwner{}
	ec, err := ds.CreateExecutionContext(owner, instance.RoleMain)
	require.NoError(t, err)

	require.NoError(t, ec.Close())
	assert.Len(t, owner.removed, 1)
}
