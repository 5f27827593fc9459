package book

import "embed"

// Migrations は書籍サービスのスキーマ定義。
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir はMigrations内のマイグレーションファイルのディレクトリ。
const MigrationsDir = "migrations"
