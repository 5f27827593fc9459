package category

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	categorydb "github.com/nao1215/bookshelf/internal/category/db"
	"github.com/nao1215/bookshelf/pkg/event"
	"github.com/nao1215/bookshelf/pkg/metrics"
	"github.com/nao1215/bookshelf/pkg/middleware"
	"github.com/nao1215/bookshelf/pkg/validation"
	"go.uber.org/zap"
)

// ServiceName はディスカバリーに登録するサービス名。
const ServiceName = "category-service"

// Server はカテゴリサービスのHTTPサーバー。
type Server struct {
	router    *gin.Engine
	queries   *categorydb.Queries
	events    *event.Emitter
	logger    *zap.Logger
	jwtSecret string
}

// NewServer は新しいカテゴリサーバーを生成する。
func NewServer(db *sql.DB, publisher event.Publisher, logger *zap.Logger, jwtSecret string) *Server {
	validation.Register()

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Metrics(ServiceName))

	s := &Server{
		router:    router,
		queries:   categorydb.New(db),
		events:    event.NewEmitter(publisher, logger),
		logger:    logger,
		jwtSecret: jwtSecret,
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
		categories := api.Group("/categories")
		{
			categories.GET("", s.handleList())
			categories.GET("/:id", s.handleGetByID())
			// book-serviceから呼ばれるID検証
			categories.POST("/validate", s.handleValidate())
		}

		admin := api.Group("/categories")
		admin.Use(middleware.RequireRole(middleware.RoleAdmin))
		{
			admin.POST("", s.handleCreate())
			admin.PUT("/:id", s.handleUpdate())
			admin.DELETE("/:id", s.handleDelete())
		}
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// createCategoryRequest はカテゴリ作成リクエストのJSON構造。
type createCategoryRequest struct {
	Name        string `json:"name" binding:"notblank,max=100"`
	Description string `json:"description" binding:"max=500"`
	// Active は省略時trueになる。
	Active *bool `json:"active"`
}

// updateCategoryRequest はカテゴリ更新リクエストのJSON構造。省略したフィールドは維持する。
type updateCategoryRequest struct {
	Name        *string `json:"name" binding:"omitempty,notblank,max=100"`
	Description *string `json:"description" binding:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

// validateCategoriesRequest はカテゴリID検証リクエストのJSON構造。
type validateCategoriesRequest struct {
	IDs []int64 `json:"ids"`
}

// categoryResponse はカテゴリのJSONレスポンス構造。
type categoryResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toCategoryResponse(c categorydb.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Active:      c.Active,
		CreatedAt:   c.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:   c.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idが不正です"})
		return 0, false
	}
	return id, true
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// handleList はカテゴリ一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		categories, err := s.queries.ListCategories(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリ一覧の取得に失敗しました"})
			s.logger.Error("カテゴリ一覧取得エラー", zap.Error(err))
			return
		}

		responses := make([]categoryResponse, 0, len(categories))
		for _, cat := range categories {
			responses = append(responses, toCategoryResponse(cat))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByID はカテゴリ詳細取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		cat, err := s.queries.GetCategoryByID(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "カテゴリが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの取得に失敗しました"})
			s.logger.Error("カテゴリ取得エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}
		c.JSON(http.StatusOK, toCategoryResponse(cat))
	}
}

// handleValidate はカテゴリIDの検証を処理するハンドラを返す。
// すべてのIDが存在し有効な場合にvalidがtrueになる。
func (s *Server) handleValidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req validateCategoriesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ids := slices.Clone(req.IDs)
		slices.Sort(ids)
		ids = slices.Compact(ids)

		active, err := s.queries.ListActiveCategoryIDs(c.Request.Context(), ids)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの検証に失敗しました"})
			s.logger.Error("カテゴリ検証エラー", zap.Error(err))
			return
		}

		invalid := []int64{}
		for _, id := range ids {
			if !slices.Contains(active, id) {
				invalid = append(invalid, id)
			}
		}
		c.JSON(http.StatusOK, gin.H{"valid": len(invalid) == 0, "invalid_ids": invalid})
	}
}

// handleCreate はカテゴリ作成を処理するハンドラを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCategoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}

		ctx := c.Request.Context()
		id, err := s.queries.CreateCategory(ctx, categorydb.CreateCategoryParams{
			Name:        strings.TrimSpace(req.Name),
			Description: req.Description,
			Active:      active,
		})
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("カテゴリ %s は既に存在します", req.Name)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの作成に失敗しました"})
			s.logger.Error("カテゴリ作成エラー", zap.Error(err))
			return
		}

		created, err := s.queries.GetCategoryByID(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成したカテゴリの取得に失敗しました"})
			s.logger.Error("カテゴリ取得エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}

		s.events.Emit(ctx, strconv.FormatInt(id, 10), event.AggregateTypeCategory, event.TypeCategoryCreated,
			middleware.GetUserID(c), event.CategoryData{Name: created.Name, Active: created.Active})

		c.JSON(http.StatusCreated, toCategoryResponse(created))
	}
}

// handleUpdate はカテゴリ更新を処理するハンドラを返す。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		existing, err := s.queries.GetCategoryByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "カテゴリが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの取得に失敗しました"})
			s.logger.Error("カテゴリ取得エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}

		var req updateCategoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		params := categorydb.UpdateCategoryParams{
			Name:        existing.Name,
			Description: existing.Description,
			Active:      existing.Active,
			ID:          id,
		}
		if req.Name != nil {
			params.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			params.Description = *req.Description
		}
		if req.Active != nil {
			params.Active = *req.Active
		}

		_, err = s.queries.UpdateCategory(ctx, params)
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("カテゴリ %s は既に存在します", params.Name)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの更新に失敗しました"})
			s.logger.Error("カテゴリ更新エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}

		updated, err := s.queries.GetCategoryByID(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後のカテゴリの取得に失敗しました"})
			s.logger.Error("カテゴリ取得エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}

		s.events.Emit(ctx, strconv.FormatInt(id, 10), event.AggregateTypeCategory, event.TypeCategoryUpdated,
			middleware.GetUserID(c), event.CategoryData{Name: updated.Name, Active: updated.Active})

		c.JSON(http.StatusOK, toCategoryResponse(updated))
	}
}

// handleDelete はカテゴリ削除を処理するハンドラを返す。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		existing, err := s.queries.GetCategoryByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "カテゴリが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの取得に失敗しました"})
			s.logger.Error("カテゴリ取得エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}

		n, err := s.queries.DeleteCategory(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カテゴリの削除に失敗しました"})
			s.logger.Error("カテゴリ削除エラー", zap.Int64("category_id", id), zap.Error(err))
			return
		}
		if n == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "カテゴリが見つかりません"})
			return
		}

		s.events.Emit(ctx, strconv.FormatInt(id, 10), event.AggregateTypeCategory, event.TypeCategoryDeleted,
			middleware.GetUserID(c), event.CategoryData{Name: existing.Name, Active: existing.Active})

		c.Status(http.StatusNoContent)
	}
}
