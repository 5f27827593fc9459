// Package cli は各サービスのコマンドライン（serve / migrate）を組み立てる。
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/nao1215/bookshelf/pkg/bootstrap"
	"github.com/nao1215/bookshelf/pkg/config"
	"github.com/nao1215/bookshelf/pkg/database"
	"github.com/nao1215/bookshelf/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// HandlerFunc は起動済みのAppとマイグレーション適用済みのDBからHTTPハンドラを組み立てる。
type HandlerFunc func(app *bootstrap.App, db *sql.DB) (http.Handler, error)

// Service はコマンドを生成するサービスの定義。
type Service struct {
	// Command はコマンド名（例: "book"）。
	Command string
	// Name はディスカバリーに登録するサービス名。
	Name string
	// Short はヘルプに表示する説明。
	Short string
	// Defaults はサービス固有の設定デフォルト値。
	Defaults config.Defaults
	// Migrations と MigrationsDir はスキーマのマイグレーションファイル。
	Migrations    fs.FS
	MigrationsDir string
	// Handler はHTTPハンドラを組み立てる。
	Handler HandlerFunc
}

// NewRootCommand はサービスのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
func NewRootCommand(svc Service) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          svc.Command,
		Short:        svc.Short,
		Version:      version(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), svc, configFile)
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "設定ファイル（YAML）のパス")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動しディスカバリーに登録する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), svc, configFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "データベースにマイグレーションを適用して終了する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), svc, configFile)
		},
	})
	return root
}

// Execute はルートコマンドを実行し、失敗した場合は終了コード1でプロセスを終了する。
func Execute(svc Service) {
	if err := NewRootCommand(svc).Execute(); err != nil {
		os.Exit(1)
	}
}

// version はビルド情報に埋め込まれたモジュールのバージョンを返す。
func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// load は設定とロガーを用意する。
func load(svc Service, configFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(config.Options{
		Service:  svc.Name,
		File:     configFile,
		Defaults: svc.Defaults,
	})
	if err != nil {
		return nil, nil, err
	}

	l, err := logger.New(svc.Name, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

// serve はサービスを起動し、SIGINTまたはSIGTERMを受けるまで処理を続ける。
func serve(ctx context.Context, svc Service, configFile string) error {
	cfg, l, err := load(svc, configFile)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, l, bootstrap.WithMetadata(map[string]string{
		"version":    version(),
		"go_version": runtime.Version(),
	}))
	if err != nil {
		l.Error("ディスカバリーへの接続に失敗しました", zap.Error(err))
		return err
	}

	db, err := app.OpenDatabase(ctx, svc.Migrations, svc.MigrationsDir)
	if err != nil {
		app.Close()
		l.Error("データベースの初期化に失敗しました", zap.Error(err))
		return err
	}

	handler, err := svc.Handler(app, db)
	if err != nil {
		app.Close()
		l.Error("ハンドラの初期化に失敗しました", zap.Error(err))
		return err
	}

	if err := app.Run(ctx, handler); err != nil {
		l.Error("サービスが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}

// migrate はデータベースにマイグレーションを適用する。ディスカバリーには接続しない。
func migrate(ctx context.Context, svc Service, configFile string) error {
	cfg, l, err := load(svc, configFile)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	db, err := database.OpenAndMigrate(ctx, cfg.Database.Path, svc.Migrations, svc.MigrationsDir, l)
	if err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return db.Close()
}
