package book

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	bookdb "github.com/nao1215/bookshelf/internal/book/db"
	"github.com/nao1215/bookshelf/pkg/event"
	"github.com/nao1215/bookshelf/pkg/metrics"
	"github.com/nao1215/bookshelf/pkg/middleware"
	"github.com/nao1215/bookshelf/pkg/validation"
	"go.uber.org/zap"
)

// ServiceName はディスカバリーに登録するサービス名。
const ServiceName = "book-service"

// Server は書籍サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// queries は書籍テーブルのクエリ実行オブジェクト。
	queries *bookdb.Queries
	// db はSQLiteデータベース接続。トランザクションの開始に使う。
	db *sql.DB
	// categories はカテゴリIDの検証に使う。
	categories CategoryValidator
	// events はドメインイベントの発行に使う。
	events *event.Emitter
	// logger はサービスのロガー。
	logger *zap.Logger
	// jwtSecret はJWT検証用のシークレット。
	jwtSecret string
}

// NewServer は新しい書籍サーバーを生成する。
// dbにはマイグレーション適用済みの接続を渡す。
func NewServer(db *sql.DB, categories CategoryValidator, publisher event.Publisher, logger *zap.Logger, jwtSecret string) *Server {
	validation.Register()

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics(ServiceName))

	s := &Server{
		router:     router,
		queries:    bookdb.New(db),
		db:         db,
		categories: categories,
		events:     event.NewEmitter(publisher, logger),
		logger:     logger,
		jwtSecret:  jwtSecret,
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		books := api.Group("/books")
		{
			// 書籍一覧取得
			books.GET("", s.handleList())
			// 書籍詳細取得
			books.GET("/:id", s.handleGetByID())
			// 貸出可能な書籍
			books.GET("/available", s.handleListAvailable())
			// 在庫切れの書籍
			books.GET("/out-of-stock", s.handleListOutOfStock())
			// 貸出中の冊がある書籍
			books.GET("/borrowed", s.handleListBorrowed())
			// ステータス別
			books.GET("/status/:status", s.handleListByStatus())
			// カテゴリ別
			books.GET("/category/:category_id", s.handleListByCategory())
			// ISBNの登録有無
			books.GET("/isbn/:isbn", s.handleExistsByISBN())
			// 条件検索
			books.GET("/search", s.handleSearch())
		}

		admin := api.Group("/books")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			// 書籍登録
			admin.POST("", s.handleCreate())
			// 書籍更新
			admin.PUT("/:id", s.handleUpdate())
			// 貸出
			admin.POST("/:id/borrow", s.handleBorrow())
			// 返却
			admin.POST("/:id/return", s.handleReturn())
			// 書籍削除
			admin.DELETE("/:id", s.handleDelete())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}
