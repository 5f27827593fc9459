// 書籍サービスのエントリポイント。
// 書籍カタログのCRUD、貸出と返却、検索を担当する。
// カテゴリIDの検証はディスカバリーで解決したcategory-serviceに問い合わせる。
package main

import (
	"database/sql"
	"net/http"

	"github.com/nao1215/bookshelf/internal/book"
	"github.com/nao1215/bookshelf/pkg/bootstrap"
	"github.com/nao1215/bookshelf/pkg/cli"
	"github.com/nao1215/bookshelf/pkg/config"
	"github.com/nao1215/bookshelf/pkg/httpclient"
)

func main() {
	cli.Execute(cli.Service{
		Command:       "book",
		Name:          book.ServiceName,
		Short:         "書籍カタログサービス",
		Defaults:      config.Defaults{Port: 8081, DatabasePath: "/data/book.db"},
		Migrations:    book.Migrations,
		MigrationsDir: book.MigrationsDir,
		Handler: func(app *bootstrap.App, db *sql.DB) (http.Handler, error) {
			cfg := app.Config()
			var client *httpclient.Client
			if u, ok := cfg.Services[book.CategoryServiceName]; ok {
				// 固定URLが設定されていればディスカバリーを経由しない
				client = httpclient.New(u, httpclient.WithLogger(app.Logger()))
			} else {
				client = httpclient.NewDiscovered(app.Resolver(), book.CategoryServiceName,
					httpclient.WithLogger(app.Logger()))
			}
			categories := book.NewCategoryClient(client, cfg.CategoryCache.Size, cfg.CategoryCache.TTL)
			return book.NewServer(db, categories, app.Publisher(), app.Logger(), cfg.JWT.Secret).Handler(), nil
		},
	})
}
