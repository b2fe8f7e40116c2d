package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSQLitePragmas(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "file:membersync.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"plain path", "data/app.db", "file:data/app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"existing query", "file:app.db?mode=rwc", "file:app.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"pragma already set", "file:app.db?_pragma=foreign_keys(1)", "file:app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, withSQLitePragmas(tc.in))
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)
}

func TestMigrateSQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	for _, table := range []string{"tenants", "members", "webhook_deliveries"} {
		var name string
		err := db.SQL.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestSQLiteEnforcesForeignKeys(t *testing.T) {
	ctx := context.Background()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "fk.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	_, err = db.SQL.ExecContext(ctx, `INSERT INTO members (tenant_id, member_id) VALUES ('biz_missing', 'user_1')`)
	assert.Error(t, err)

	_, err = db.SQL.ExecContext(ctx, `INSERT INTO tenants (tenant_id) VALUES ('biz_1')`)
	require.NoError(t, err)
	_, err = db.SQL.ExecContext(ctx, `INSERT INTO members (tenant_id, member_id) VALUES ('biz_1', 'user_1')`)
	require.NoError(t, err)

	_, err = db.SQL.ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = 'biz_1'`)
	require.NoError(t, err)
	var count int
	require.NoError(t, db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`).Scan(&count))
	assert.Equal(t, 0, count, "members cascade with their tenant")
}

func TestCloseNil(t *testing.T) {
	var db *DB
	assert.NoError(t, db.Close())
}
