package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/000002_add_notes.up.sql":     {Data: []byte("ALTER TABLE items ADD COLUMN note TEXT NOT NULL DEFAULT '';")},
		"migrations/000001_create_items.up.sql":  {Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"migrations/000001_create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"migrations/README.md":                   {Data: []byte("ignored")},
		"migrations/latest_broken.up.sql":        {Data: []byte("ignored")},
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCollect(t *testing.T) {
	t.Parallel()

	files, err := Collect(testFS(), "migrations")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 1, files[0].Version)
	assert.Equal(t, "create_items", files[0].Name)
	assert.Equal(t, 2, files[1].Version)
	assert.Equal(t, "add_notes", files[1].Name)
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("未適用のマイグレーションを順番に適用すること", func(t *testing.T) {
		t.Parallel()
		db := openDB(t)

		n, err := Run(context.Background(), db, testFS(), "migrations", zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = db.Exec("INSERT INTO items (id, note) VALUES ('a', 'memo')")
		assert.NoError(t, err)
	})

	t.Run("二回目の実行では何も適用しないこと", func(t *testing.T) {
		t.Parallel()
		db := openDB(t)
		logger := zaptest.NewLogger(t)

		_, err := Run(context.Background(), db, testFS(), "migrations", logger)
		require.NoError(t, err)
		n, err := Run(context.Background(), db, testFS(), "migrations", logger)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SQLが不正な場合はエラーを返しバージョンを記録しないこと", func(t *testing.T) {
		t.Parallel()
		db := openDB(t)
		fsys := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte("CREATE TABL nope;")},
		}

		_, err := Run(context.Background(), db, fsys, "m", zaptest.NewLogger(t))
		require.Error(t, err)

		var count int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("ディレクトリが存在しない場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()
		db := openDB(t)

		_, err := Run(context.Background(), db, testFS(), "missing", zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}
