package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gatewaydb "github.com/nao1215/bookshelf/internal/gateway/db"
	"github.com/nao1215/bookshelf/pkg/config"
	"github.com/nao1215/bookshelf/pkg/discovery"
	"github.com/nao1215/bookshelf/pkg/metrics"
	"github.com/nao1215/bookshelf/pkg/middleware"
	"go.uber.org/zap"
)

const (
	// ServiceName はディスカバリーに登録するサービス名。
	ServiceName = "gateway"

	bookService     = "book-service"
	categoryService = "category-service"

	// proxyTimeout は転送先サービスの応答を待つ上限。
	proxyTimeout = 30 * time.Second
)

// Resolver はサービス名から転送先のベースURLを解決する。
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// Server はAPI Gatewayサービスの HTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// queries はユーザーテーブルのクエリ実行オブジェクト。
	queries *gatewaydb.Queries
	// resolver は転送先インスタンスの解決に使う。
	resolver Resolver
	// client は転送用のHTTPクライアント。
	client *http.Client
	// logger はサービスのロガー。
	logger *zap.Logger
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
}

// NewServer は新しいGatewayサーバーを生成する。
// dbにはマイグレーション適用済みの接続を渡す。
func NewServer(db *sql.DB, resolver Resolver, cfg *config.Config, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics(ServiceName))
	router.Use(middleware.CORS(cfg.Gateway.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Gateway.RateLimit.RequestsPerSecond, cfg.Gateway.RateLimit.Burst))

	s := &Server{
		router:    router,
		queries:   gatewaydb.New(db),
		resolver:  resolver,
		client:    &http.Client{Timeout: proxyTimeout},
		logger:    logger,
		jwtSecret: cfg.JWT.Secret,
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
	auth := s.router.Group("/auth")
	{
		// 開発用トークン発行
		auth.POST("/dev-token", s.handleDevToken())
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		api.GET("/me", s.handleGetCurrentUser())

		// 書籍（プロキシ）
		api.Any("/books", s.handleProxy(bookService))
		api.Any("/books/*path", s.handleProxy(bookService))

		// カテゴリ（プロキシ）
		api.Any("/categories", s.handleProxy(categoryService))
		api.Any("/categories/*path", s.handleProxy(categoryService))
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// Role は省略時USERになる。
	Role string `json:"role" binding:"omitempty,oneof=ADMIN USER"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// ロールごとに1人の開発ユーザーを作成して使い回す。本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}
		if req.Role == "" {
			req.Role = middleware.RoleUser
		}

		ctx := c.Request.Context()
		user, err := s.devUser(ctx, req.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "開発ユーザーの準備に失敗しました"})
			s.logger.Error("開発ユーザー準備エラー", zap.String("role", req.Role), zap.Error(err))
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, user.ID, user.Email, user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			s.logger.Error("JWT生成エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": user.ID,
			"role":    user.Role,
		})
	}
}

// devUser は指定ロールの開発ユーザーを返す。存在しなければ作成する。
func (s *Server) devUser(ctx context.Context, role string) (gatewaydb.User, error) {
	email := devEmail(role)

	user, err := s.queries.GetUserByEmail(ctx, email)
	if err == nil {
		if err := s.queries.UpdateLastLogin(ctx, user.ID); err != nil {
			return gatewaydb.User{}, fmt.Errorf("最終ログイン日時の更新に失敗: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return gatewaydb.User{}, fmt.Errorf("ユーザー取得に失敗: %w", err)
	}

	id := uuid.New().String()
	err = s.queries.CreateUser(ctx, gatewaydb.CreateUserParams{
		ID:          id,
		Email:       email,
		DisplayName: "開発ユーザー（" + role + "）",
		Role:        role,
	})
	if isUniqueViolation(err) {
		// 同時に作成された開発ユーザーを使う
		return s.queries.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return gatewaydb.User{}, fmt.Errorf("ユーザー作成に失敗: %w", err)
	}
	return s.queries.GetUserByID(ctx, id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func devEmail(role string) string {
	if role == middleware.RoleAdmin {
		return "dev-admin@localhost"
	}
	return "dev@localhost"
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		user, err := s.queries.GetUserByID(c.Request.Context(), userID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
			s.logger.Error("ユーザー取得エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           user.ID,
			"email":        user.Email,
			"display_name": user.DisplayName,
			"role":         user.Role,
		})
	}
}

// handleProxy は指定されたサービスにリクエストをプロキシするハンドラを返す。
// パスとクエリはそのまま転送する。
func (s *Server) handleProxy(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		baseURL, err := s.resolver.Resolve(c.Request.Context(), service)
		if err != nil {
			metrics.ProxyRequests.WithLabelValues(service, "unavailable").Inc()
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "転送先のサービスが利用できません"})
			if !errors.Is(err, discovery.ErrNoInstances) {
				s.logger.Error("転送先解決エラー", zap.String("target", service), zap.Error(err))
			}
			return
		}

		proxyURL := baseURL + c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, service, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンとユーザーIDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, service, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(service, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	if ct := c.GetHeader("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-User-ID", middleware.GetUserID(c))

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(service, "bad_gateway").Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		s.logger.Warn("プロキシエラー", zap.String("url", url), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(service, "bad_gateway").Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}
	metrics.ProxyRequests.WithLabelValues(service, "ok").Inc()

	if resp.StatusCode == http.StatusNoContent {
		c.Status(http.StatusNoContent)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}
