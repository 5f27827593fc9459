// API Gatewayサービスのエントリポイント。
// 開発用JWTの発行と、ディスカバリーで解決した内部サービスへの転送を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"database/sql"
	"net/http"

	"github.com/nao1215/bookshelf/internal/gateway"
	"github.com/nao1215/bookshelf/pkg/bootstrap"
	"github.com/nao1215/bookshelf/pkg/cli"
	"github.com/nao1215/bookshelf/pkg/config"
)

func main() {
	cli.Execute(cli.Service{
		Command:       "gateway",
		Name:          gateway.ServiceName,
		Short:         "API Gateway",
		Defaults:      config.Defaults{Port: 8080, DatabasePath: "/data/gateway.db"},
		Migrations:    gateway.Migrations,
		MigrationsDir: gateway.MigrationsDir,
		Handler: func(app *bootstrap.App, db *sql.DB) (http.Handler, error) {
			return gateway.NewServer(db, app.Resolver(), app.Config(), app.Logger()).Handler(), nil
		},
	})
}
