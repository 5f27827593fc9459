package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", DSN(MemoryPath))
	assert.Contains(t, DSN("/data/book.db"), "_pragma=journal_mode(WAL)")
}

func TestOpenAndMigrate(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000001_create_parents.up.sql": {Data: []byte(`
CREATE TABLE parents (id INTEGER PRIMARY KEY);
CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER NOT NULL REFERENCES parents(id));
`)},
	}

	t.Run("ファイルデータベースにマイグレーションを適用できること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "test.db")
		db, err := OpenAndMigrate(context.Background(), path, fsys, "migrations", zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		_, err = db.Exec("INSERT INTO parents (id) VALUES (1)")
		assert.NoError(t, err)
	})

	t.Run("外部キー制約が有効であること", func(t *testing.T) {
		t.Parallel()

		db, err := OpenAndMigrate(context.Background(), MemoryPath, fsys, "migrations", zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		_, err = db.Exec("INSERT INTO children (id, parent_id) VALUES (1, 99)")
		assert.Error(t, err)
	})

	t.Run("マイグレーションディレクトリが無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := OpenAndMigrate(context.Background(), MemoryPath, fsys, "nope", zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}
