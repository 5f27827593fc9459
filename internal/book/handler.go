package book

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	bookdb "github.com/nao1215/bookshelf/internal/book/db"
	"github.com/nao1215/bookshelf/pkg/event"
	"github.com/nao1215/bookshelf/pkg/httpclient"
	"github.com/nao1215/bookshelf/pkg/metrics"
	"github.com/nao1215/bookshelf/pkg/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// createBookRequest は書籍登録リクエストのJSON構造。
type createBookRequest struct {
	Title           string          `json:"title" binding:"notblank,max=200"`
	Author          string          `json:"author" binding:"notblank"`
	ISBN            string          `json:"isbn" binding:"isbn_digits"`
	PublishedYear   int64           `json:"published_year" binding:"min=1000,max=9999"`
	Description     string          `json:"description" binding:"notblank,max=500"`
	TotalCopies     *int64          `json:"total_copies" binding:"required,min=0"`
	AvailableCopies *int64          `json:"available_copies" binding:"required,min=0"`
	Price           decimal.Decimal `json:"price"`
	// Status は省略時 AVAILABLE になる。
	Status      Status  `json:"status" binding:"omitempty,oneof=AVAILABLE UNAVAILABLE DISCONTINUED"`
	CategoryIDs []int64 `json:"category_ids" binding:"omitempty,dive,gt=0"`
}

// updateBookRequest は書籍更新リクエストのJSON構造。
// 省略したフィールドは現在の値を維持する。ISBNは変更できない。
type updateBookRequest struct {
	Title           *string          `json:"title" binding:"omitempty,notblank,max=200"`
	Author          *string          `json:"author" binding:"omitempty,notblank"`
	PublishedYear   *int64           `json:"published_year" binding:"omitempty,min=1000,max=9999"`
	Description     *string          `json:"description" binding:"omitempty,notblank,max=500"`
	TotalCopies     *int64           `json:"total_copies" binding:"omitempty,min=0"`
	AvailableCopies *int64           `json:"available_copies" binding:"omitempty,min=0"`
	Price           *decimal.Decimal `json:"price"`
	Status          *Status          `json:"status" binding:"omitempty,oneof=AVAILABLE UNAVAILABLE DISCONTINUED"`
	CategoryIDs     []int64          `json:"category_ids" binding:"omitempty,dive,gt=0"`
}

// bookResponse は書籍のJSONレスポンス構造。
type bookResponse struct {
	ID              int64       `json:"id"`
	Title           string      `json:"title"`
	Author          string      `json:"author"`
	ISBN            string      `json:"isbn"`
	PublishedYear   int64       `json:"published_year"`
	Description     string      `json:"description"`
	TotalCopies     int64       `json:"total_copies"`
	AvailableCopies int64       `json:"available_copies"`
	Price           json.Number `json:"price"`
	Status          string      `json:"status"`
	CategoryIDs     []int64     `json:"category_ids"`
	CreatedAt       string      `json:"created_at"`
	UpdatedAt       string      `json:"updated_at"`
}

// toBookResponse はDB行をJSONレスポンスに変換する。
func toBookResponse(b bookdb.Book, categoryIDs []int64) bookResponse {
	if categoryIDs == nil {
		categoryIDs = []int64{}
	}
	return bookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.Isbn,
		PublishedYear:   b.PublishedYear,
		Description:     b.Description,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Price:           fromCents(b.PriceCents),
		Status:          b.Status,
		CategoryIDs:     categoryIDs,
		CreatedAt:       b.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:       b.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// toBookResponses は複数のDB行をカテゴリIDを付与してJSONレスポンスに変換する。
func (s *Server) toBookResponses(ctx context.Context, books []bookdb.Book) ([]bookResponse, error) {
	ids := make([]int64, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}

	links, err := s.queries.ListBookCategoriesByBookIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	categories := make(map[int64][]int64, len(books))
	for _, l := range links {
		categories[l.BookID] = append(categories[l.BookID], l.CategoryID)
	}

	responses := make([]bookResponse, 0, len(books))
	for _, b := range books {
		responses = append(responses, toBookResponse(b, categories[b.ID]))
	}
	return responses, nil
}

// loadBook は書籍をカテゴリIDとともに取得する。
func (s *Server) loadBook(ctx context.Context, id int64) (bookResponse, error) {
	b, err := s.queries.GetBookByID(ctx, id)
	if err != nil {
		return bookResponse{}, err
	}
	responses, err := s.toBookResponses(ctx, []bookdb.Book{b})
	if err != nil {
		return bookResponse{}, err
	}
	return responses[0], nil
}

// parseID はパスパラメータを正の整数IDとして解釈する。
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%sが不正です", name)})
		return 0, false
	}
	return id, true
}

// respondList は書籍一覧をレスポンスとして返す。
func (s *Server) respondList(c *gin.Context, books []bookdb.Book, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍一覧の取得に失敗しました"})
		s.logger.Error("書籍一覧取得エラー", zap.Error(err))
		return
	}
	responses, err := s.toBookResponses(c.Request.Context(), books)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍一覧の取得に失敗しました"})
		s.logger.Error("カテゴリ取得エラー", zap.Error(err))
		return
	}
	c.JSON(http.StatusOK, responses)
}

// handleList は全書籍の一覧取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := s.queries.ListBooks(c.Request.Context())
		s.respondList(c, books, err)
	}
}

// handleListAvailable は貸出可能な書籍の一覧取得を処理するハンドラを返す。
func (s *Server) handleListAvailable() gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := s.queries.ListAvailableBooks(c.Request.Context())
		s.respondList(c, books, err)
	}
}

// handleListOutOfStock は在庫切れの書籍の一覧取得を処理するハンドラを返す。
func (s *Server) handleListOutOfStock() gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := s.queries.ListOutOfStockBooks(c.Request.Context())
		s.respondList(c, books, err)
	}
}

// handleListBorrowed は貸出中の冊がある書籍の一覧取得を処理するハンドラを返す。
func (s *Server) handleListBorrowed() gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := s.queries.ListBorrowedBooks(c.Request.Context())
		s.respondList(c, books, err)
	}
}

// handleListByStatus はステータス別の書籍一覧取得を処理するハンドラを返す。
func (s *Server) handleListByStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := Status(strings.ToUpper(c.Param("status")))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不明なステータスです: %s", c.Param("status"))})
			return
		}
		books, err := s.queries.ListBooksByStatus(c.Request.Context(), string(status))
		s.respondList(c, books, err)
	}
}

// handleListByCategory はカテゴリ別の書籍一覧取得を処理するハンドラを返す。
func (s *Server) handleListByCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		categoryID, ok := parseID(c, "category_id")
		if !ok {
			return
		}
		books, err := s.queries.ListBooksByCategoryID(c.Request.Context(), categoryID)
		s.respondList(c, books, err)
	}
}

// handleExistsByISBN はISBNの登録有無の確認を処理するハンドラを返す。
func (s *Server) handleExistsByISBN() gin.HandlerFunc {
	return func(c *gin.Context) {
		isbn := c.Param("isbn")
		exists, err := s.queries.ExistsBookByIsbn(c.Request.Context(), isbn)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ISBNの確認に失敗しました"})
			s.logger.Error("ISBN確認エラー", zap.Error(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"isbn": isbn, "exists": exists})
	}
}

// searchQuery は検索条件のクエリパラメータ。
type searchQuery struct {
	Title    string `form:"title"`
	Author   string `form:"author"`
	MinPrice string `form:"min_price"`
	MaxPrice string `form:"max_price"`
	YearFrom *int64 `form:"year_from"`
	YearTo   *int64 `form:"year_to"`
	Status   string `form:"status"`
}

// handleSearch は条件検索を処理するハンドラを返す。
// 指定された条件のAND検索を行う。価格と出版年は上下限の両方が指定された場合のみ絞り込む。
func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q searchQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("検索条件が不正です: %v", err)})
			return
		}

		params := bookdb.SearchBooksParams{
			Title:  q.Title,
			Author: q.Author,
		}

		if q.Status != "" {
			status := Status(strings.ToUpper(q.Status))
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不明なステータスです: %s", q.Status)})
				return
			}
			params.Status = string(status)
		}

		if q.MinPrice != "" && q.MaxPrice != "" {
			lower, err := decimal.NewFromString(q.MinPrice)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "min_priceが不正です"})
				return
			}
			upper, err := decimal.NewFromString(q.MaxPrice)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "max_priceが不正です"})
				return
			}
			params.MinPriceCents = sql.NullInt64{Int64: priceBoundCents(lower, true), Valid: true}
			params.MaxPriceCents = sql.NullInt64{Int64: priceBoundCents(upper, false), Valid: true}
		}

		if q.YearFrom != nil && q.YearTo != nil {
			params.YearFrom = sql.NullInt64{Int64: *q.YearFrom, Valid: true}
			params.YearTo = sql.NullInt64{Int64: *q.YearTo, Valid: true}
		}

		books, err := s.queries.SearchBooks(c.Request.Context(), params)
		s.respondList(c, books, err)
	}
}

// handleGetByID は書籍詳細取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		b, err := s.loadBook(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "書籍が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の取得に失敗しました"})
			s.logger.Error("書籍取得エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, b)
	}
}

// checkCategories はカテゴリIDを検証する。問題があればレスポンスを書き込みfalseを返す。
func (s *Server) checkCategories(c *gin.Context, ids []int64) bool {
	if len(ids) == 0 {
		return true
	}

	ctx := httpclient.WithAuthorization(c.Request.Context(), c.GetHeader("Authorization"))
	ctx = httpclient.WithUserID(ctx, middleware.GetUserID(c))
	invalid, err := s.categories.Validate(ctx, ids)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "カテゴリの検証に失敗しました。しばらくしてから再試行してください"})
		s.logger.Error("カテゴリ検証エラー", zap.Error(err))
		return false
	}
	if len(invalid) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "無効または非アクティブなカテゴリIDが含まれています",
			"invalid_ids": invalid,
		})
		return false
	}
	return true
}

// copiesError は貸出可能数が総冊数を超える場合のエラーメッセージを返す。
func copiesError(available, total int64) string {
	return fmt.Sprintf("貸出可能数（%d）は総冊数（%d）を超えられません", available, total)
}

// isUniqueViolation はUNIQUE制約違反のエラーであるかを返す。
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// bookEventData はイベントに載せる書籍データを組み立てる。
func bookEventData(b bookResponse) event.BookData {
	return event.BookData{
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Status:          b.Status,
		Price:           b.Price.String(),
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CategoryIDs:     b.CategoryIDs,
	}
}

// handleCreate は書籍登録を処理するハンドラを返す。
// ISBNの重複、在庫数、カテゴリIDを検証してから登録し、BookCreatedイベントを発行する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createBookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if err := validatePrice(req.Price); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if *req.AvailableCopies > *req.TotalCopies {
			c.JSON(http.StatusBadRequest, gin.H{"error": copiesError(*req.AvailableCopies, *req.TotalCopies)})
			return
		}
		if req.Status == "" {
			req.Status = StatusAvailable
		}

		ctx := c.Request.Context()
		exists, err := s.queries.ExistsBookByIsbn(ctx, req.ISBN)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の登録に失敗しました"})
			s.logger.Error("ISBN確認エラー", zap.Error(err))
			return
		}
		if exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ISBN %s の書籍は既に登録されています", req.ISBN)})
			return
		}

		categoryIDs := uniqueIDs(req.CategoryIDs)
		if !s.checkCategories(c, categoryIDs) {
			return
		}

		var bookID int64
		err = s.inTx(ctx, func(q *bookdb.Queries) error {
			id, err := q.CreateBook(ctx, bookdb.CreateBookParams{
				Title:           req.Title,
				Author:          req.Author,
				Isbn:            req.ISBN,
				PublishedYear:   req.PublishedYear,
				Description:     req.Description,
				TotalCopies:     *req.TotalCopies,
				AvailableCopies: *req.AvailableCopies,
				PriceCents:      toCents(req.Price),
				Status:          string(req.Status),
			})
			if err != nil {
				return err
			}
			bookID = id
			return addCategories(ctx, q, id, categoryIDs)
		})
		if isUniqueViolation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("ISBN %s の書籍は既に登録されています", req.ISBN)})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の登録に失敗しました"})
			s.logger.Error("書籍登録エラー", zap.Error(err))
			return
		}

		created, err := s.loadBook(ctx, bookID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "登録した書籍の取得に失敗しました"})
			s.logger.Error("書籍取得エラー", zap.Int64("book_id", bookID), zap.Error(err))
			return
		}

		s.events.Emit(ctx, strconv.FormatInt(bookID, 10), event.AggregateTypeBook, event.TypeBookCreated,
			middleware.GetUserID(c), bookEventData(created))

		c.JSON(http.StatusCreated, created)
	}
}

// handleUpdate は書籍更新を処理するハンドラを返す。
// 指定されたフィールドのみ更新し、category_idsを指定した場合は関連付けを置き換える。
// 指定されていない列には触れないため、並行する貸出・返却の結果を上書きしない。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		var req updateBookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		params := bookdb.UpdateBookParams{
			Title:           nullString(req.Title),
			Author:          nullString(req.Author),
			PublishedYear:   nullInt64(req.PublishedYear),
			Description:     nullString(req.Description),
			TotalCopies:     nullInt64(req.TotalCopies),
			AvailableCopies: nullInt64(req.AvailableCopies),
			ID:              id,
		}
		if req.Price != nil {
			if err := validatePrice(*req.Price); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			params.PriceCents = sql.NullInt64{Int64: toCents(*req.Price), Valid: true}
		}
		if req.Status != nil {
			params.Status = sql.NullString{String: string(*req.Status), Valid: true}
		}
		if req.TotalCopies != nil && req.AvailableCopies != nil && *req.AvailableCopies > *req.TotalCopies {
			c.JSON(http.StatusBadRequest, gin.H{"error": copiesError(*req.AvailableCopies, *req.TotalCopies)})
			return
		}

		ctx := c.Request.Context()
		if _, err := s.queries.GetBookByID(ctx, id); errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "書籍が見つかりません"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の取得に失敗しました"})
			s.logger.Error("書籍取得エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}

		categoryIDs := uniqueIDs(req.CategoryIDs)
		if !s.checkCategories(c, categoryIDs) {
			return
		}

		var rejected string
		err := s.inTx(ctx, func(q *bookdb.Queries) error {
			n, err := q.UpdateBook(ctx, params)
			if err != nil {
				return err
			}
			if n == 0 {
				current, err := q.GetBookByID(ctx, id)
				if err != nil {
					return err
				}
				available, total := current.AvailableCopies, current.TotalCopies
				if req.AvailableCopies != nil {
					available = *req.AvailableCopies
				}
				if req.TotalCopies != nil {
					total = *req.TotalCopies
				}
				rejected = copiesError(available, total)
				return errUpdateRejected
			}
			if req.CategoryIDs == nil {
				return nil
			}
			if err := q.DeleteBookCategories(ctx, id); err != nil {
				return err
			}
			return addCategories(ctx, q, id, categoryIDs)
		})
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "書籍が見つかりません"})
			return
		}
		if errors.Is(err, errUpdateRejected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": rejected})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の更新に失敗しました"})
			s.logger.Error("書籍更新エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}

		updated, err := s.loadBook(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後の書籍の取得に失敗しました"})
			s.logger.Error("書籍取得エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}

		s.events.Emit(ctx, strconv.FormatInt(id, 10), event.AggregateTypeBook, event.TypeBookUpdated,
			middleware.GetUserID(c), bookEventData(updated))

		c.JSON(http.StatusOK, updated)
	}
}

// errUpdateRejected は更新後の冊数が整合しないため更新しなかったことを表す。
var errUpdateRejected = errors.New("書籍を更新できません")

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// circulation は貸出・返却の共通処理。
type circulation struct {
	action    string
	eventType event.Type
	apply     func(ctx context.Context, id int64) (int64, error)
	// rejected は更新できなかった場合のエラーメッセージ。
	rejected string
}

// handleBorrow は貸出を処理するハンドラを返す。
func (s *Server) handleBorrow() gin.HandlerFunc {
	return s.handleCirculation(circulation{
		action:    "borrow",
		eventType: event.TypeBookBorrowed,
		apply:     s.queries.BorrowBook,
		rejected:  "貸出可能な在庫がありません",
	})
}

// handleReturn は返却を処理するハンドラを返す。
func (s *Server) handleReturn() gin.HandlerFunc {
	return s.handleCirculation(circulation{
		action:    "return",
		eventType: event.TypeBookReturned,
		apply:     s.queries.ReturnBook,
		rejected:  "すべての冊が既に返却されています",
	})
}

// handleCirculation は在庫数を条件付きUPDATEで1つ増減させるハンドラを返す。
// 同時に実行されても在庫数が0未満や総冊数超過になることはない。
func (s *Server) handleCirculation(op circulation) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		ctx := c.Request.Context()
		n, err := op.apply(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "在庫の更新に失敗しました"})
			s.logger.Error("在庫更新エラー", zap.String("action", op.action), zap.Int64("book_id", id), zap.Error(err))
			return
		}

		b, err := s.loadBook(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "書籍が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の取得に失敗しました"})
			s.logger.Error("書籍取得エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}
		if n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": op.rejected})
			return
		}

		metrics.BookCirculation.WithLabelValues(op.action).Inc()
		s.events.Emit(ctx, strconv.FormatInt(id, 10), event.AggregateTypeBook, op.eventType,
			middleware.GetUserID(c), event.BookCirculationData{
				AvailableCopies: b.AvailableCopies,
				TotalCopies:     b.TotalCopies,
			})

		c.JSON(http.StatusOK, b)
	}
}

// handleDelete は書籍削除を処理するハンドラを返す。
// カテゴリの関連付けも削除し、BookDeletedイベントを発行する。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}

		ctx := c.Request.Context()
		existing, err := s.queries.GetBookByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "書籍が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の取得に失敗しました"})
			s.logger.Error("書籍取得エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}

		err = s.inTx(ctx, func(q *bookdb.Queries) error {
			if err := q.DeleteBookCategories(ctx, id); err != nil {
				return err
			}
			n, err := q.DeleteBook(ctx, id)
			if err != nil {
				return err
			}
			if n == 0 {
				return sql.ErrNoRows
			}
			return nil
		})
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "書籍が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "書籍の削除に失敗しました"})
			s.logger.Error("書籍削除エラー", zap.Int64("book_id", id), zap.Error(err))
			return
		}

		s.events.Emit(ctx, strconv.FormatInt(id, 10), event.AggregateTypeBook, event.TypeBookDeleted,
			middleware.GetUserID(c), event.BookDeletedData{ISBN: existing.Isbn})

		c.Status(http.StatusNoContent)
	}
}

// inTx はfnをトランザクション内で実行する。fnがエラーを返した場合はロールバックする。
func (s *Server) inTx(ctx context.Context, fn func(q *bookdb.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// addCategories は書籍にカテゴリを関連付ける。
func addCategories(ctx context.Context, q *bookdb.Queries, bookID int64, categoryIDs []int64) error {
	for _, categoryID := range categoryIDs {
		if err := q.AddBookCategory(ctx, bookdb.AddBookCategoryParams{BookID: bookID, CategoryID: categoryID}); err != nil {
			return err
		}
	}
	return nil
}
