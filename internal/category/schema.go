package category

import "embed"

// Migrations はカテゴリサービスのスキーマ定義。
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir はMigrations内のマイグレーションファイルのディレクトリ。
const MigrationsDir = "migrations"
