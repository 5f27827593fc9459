// Package database はSQLiteデータベースへの接続とスキーマ適用を行う。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	"github.com/nao1215/bookshelf/pkg/migration"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLiteドライバ
)

// MemoryPath はインメモリデータベースを表すパス。
const MemoryPath = ":memory:"

// DSN はパスに接続時のPRAGMAを付与したデータソース名を返す。
func DSN(path string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	return path + "?" + strings.Join(pragmas, "&")
}

// Open はSQLiteデータベースを開き、接続を確認する。
// インメモリの場合は接続ごとに別のデータベースになるため、接続数を1に制限する。
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return db, nil
}

// OpenAndMigrate はデータベースを開き、fsysのdir配下のマイグレーションを適用する。
func OpenAndMigrate(ctx context.Context, path string, fsys fs.FS, dir string, logger *zap.Logger) (*sql.DB, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, err := migration.Run(ctx, db, fsys, dir, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}
