// カテゴリサービスのエントリポイント。
// カテゴリのCRUDと、book-serviceから呼ばれるカテゴリIDの検証を担当する。
package main

import (
	"database/sql"
	"net/http"

	"github.com/nao1215/bookshelf/internal/category"
	"github.com/nao1215/bookshelf/pkg/bootstrap"
	"github.com/nao1215/bookshelf/pkg/cli"
	"github.com/nao1215/bookshelf/pkg/config"
)

func main() {
	cli.Execute(cli.Service{
		Command:       "category",
		Name:          category.ServiceName,
		Short:         "カテゴリサービス",
		Defaults:      config.Defaults{Port: 8082, DatabasePath: "/data/category.db"},
		Migrations:    category.Migrations,
		MigrationsDir: category.MigrationsDir,
		Handler: func(app *bootstrap.App, db *sql.DB) (http.Handler, error) {
			return category.NewServer(db, app.Publisher(), app.Logger(), app.Config().JWT.Secret).Handler(), nil
		},
	})
}
