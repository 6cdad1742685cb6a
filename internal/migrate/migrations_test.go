package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"caseline/internal/db"
	"caseline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v, err := migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Zero(t, v)

	require.NoError(t, migrate.Migrate(conn))
	require.NoError(t, migrate.Migrate(conn))

	latest, err := migrate.Latest()
	require.NoError(t, err)
	v, err = migrate.Version(ctx, conn)
	require.NoError(t, err)
	require.Equal(t, latest, v)

	for _, table := range []string{"incidents", "worker_exceptions", "worker_schedules", "users", "notifications", "events", "api_keys", "settings"} {
		var name string
		require.NoError(t, conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name), table)
	}
}
