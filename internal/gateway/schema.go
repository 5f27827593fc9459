package gateway

import "embed"

// Migrations はユーザーテーブルのマイグレーションファイル。
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir はMigrations内のマイグレーションディレクトリ。
const MigrationsDir = "migrations"
