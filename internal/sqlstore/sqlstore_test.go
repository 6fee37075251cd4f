package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, tables ...string) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "devices.db"), Tables: tables}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE robot_arm (product_name TEXT, payload INTEGER, reach INTEGER);
		CREATE TABLE company (name TEXT)`)
	require.NoError(t, err)
	return db
}

func TestSchemaListsAllTables(t *testing.T) {
	db := openTemp(t)
	assert.Equal(t, "sqlite", db.Dialect())
	schema, err := db.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "company (name TEXT)\nrobot_arm (product_name TEXT, payload INTEGER, reach INTEGER)", schema)
}

func TestSchemaConfiguredTables(t *testing.T) {
	db := openTemp(t, "robot_arm")
	schema, err := db.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "robot_arm (product_name TEXT, payload INTEGER, reach INTEGER)", schema)

	db.tables = []string{"missing"}
	_, err = db.Schema(context.Background())
	assert.Error(t, err)
}

func TestDriverName(t *testing.T) {
	for in, want := range map[string]string{"": "sqlite3", "postgresql": "postgres", "MySQL": "mysql"} {
		got, err := driverName(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := driverName("oracle")
	assert.Error(t, err)
}
