package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Service:  "book-service",
		Defaults: Defaults{Port: 8081, DatabasePath: "/data/book.db"},
	}
}

// TestLoadDefaults はデフォルト値で設定を読み込めることを検証する。
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testOptions())
	require.NoError(t, err)

	assert.Equal(t, "book-service", cfg.Service)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, ":8081", cfg.Addr())
	assert.Equal(t, "/data/book.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Discovery.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.Discovery.TTL)
	assert.Equal(t, 10*time.Second, cfg.Discovery.HeartbeatInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, 1024, cfg.CategoryCache.Size)
}

// TestLoadFile はYAMLファイルの値がデフォルト値を上書きすることを検証する。
func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.yaml")
	content := `
server:
  port: 9090
  shutdown_timeout: 3s
discovery:
  redis_addr: redis.internal:6380
  ttl: 20s
  heartbeat_interval: 5s
log:
  level: debug
  format: console
services:
  category-service: http://category:8082
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	opts := testOptions()
	opts.File = path
	cfg, err := Load(opts)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "redis.internal:6380", cfg.Discovery.RedisAddr)
	assert.Equal(t, 20*time.Second, cfg.Discovery.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://category:8082", cfg.Services["category-service"])
}

// TestLoadEnv は環境変数が設定ファイルとデフォルト値を上書きすることを検証する。
func TestLoadEnv(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("BOOKSHELF_LOG_LEVEL", "warn")
	t.Setenv("BOOKSHELF_DISCOVERY_TTL", "45s")

	cfg, err := Load(testOptions())
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Discovery.TTL)
}

// TestLoadInvalid は不正な設定が起動前に拒否されることを検証する。
func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "ディスカバリーのアドレスが不正",
			env:  map[string]string{"DISCOVERY_REDIS_ADDR": "not a valid address"},
		},
		{
			name: "ディスカバリーのアドレスにポートがない",
			env:  map[string]string{"DISCOVERY_REDIS_ADDR": "redis"},
		},
		{
			name: "ハートビート間隔がTTL以上",
			env: map[string]string{
				"BOOKSHELF_DISCOVERY_TTL":                "5s",
				"BOOKSHELF_DISCOVERY_HEARTBEAT_INTERVAL": "10s",
			},
		},
		{
			name: "ログレベルが不正",
			env:  map[string]string{"BOOKSHELF_LOG_LEVEL": "trace"},
		},
		{
			name: "ポート番号が範囲外",
			env:  map[string]string{"PORT": "70000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(testOptions())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

// TestLoadMissingFile は存在しない設定ファイルがエラーになることを検証する。
func TestLoadMissingFile(t *testing.T) {
	opts := testOptions()
	opts.File = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Load(opts)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}
