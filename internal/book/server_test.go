package book

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/bookshelf/pkg/database"
	"github.com/nao1215/bookshelf/pkg/event"
	"github.com/nao1215/bookshelf/pkg/middleware"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "book-test-secret"

// fakeCategories はテスト用のCategoryValidator。
type fakeCategories struct {
	mu     sync.Mutex
	active map[int64]bool
	err    error
	calls  int
	// during はValidateの処理中に一度だけ呼ばれる。
	during func()
}

func (f *fakeCategories) Validate(_ context.Context, ids []int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.during != nil {
		during := f.during
		f.during = nil
		during()
	}
	if f.err != nil {
		return nil, f.err
	}
	invalid := []int64{}
	for _, id := range uniqueIDs(ids) {
		if !f.active[id] {
			invalid = append(invalid, id)
		}
	}
	return invalid, nil
}

// recordingPublisher は発行されたイベントを記録するPublisher。
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// testEnv はテスト用サーバーとその依存を束ねる。
type testEnv struct {
	server     *Server
	router     http.Handler
	categories *fakeCategories
	events     *recordingPublisher
}

// setupTestServer はテスト用の書籍サーバーをインメモリSQLiteで構築する。
// カテゴリID 1, 2, 3 は有効、4 は非アクティブとして扱う。
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := zaptest.NewLogger(t)
	sqlDB, err := database.OpenAndMigrate(context.Background(), database.MemoryPath, Migrations, MigrationsDir, logger)
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	categories := &fakeCategories{active: map[int64]bool{1: true, 2: true, 3: true, 4: false}}
	events := &recordingPublisher{}
	s := NewServer(sqlDB, categories, events, logger, testSecret)

	return &testEnv{
		server:     s,
		router:     s.Handler(),
		categories: categories,
		events:     events,
	}
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
// roleが空の場合はAuthorizationヘッダーを付与しない。
func doRequest(t *testing.T, router http.Handler, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		token, err := middleware.GenerateJWT(testSecret, "user-"+role, role+"@example.com", role)
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをマップにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// parseJSONArray はレスポンスボディをスライスにデコードするヘルパー関数。
func parseJSONArray(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var result []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSON配列のデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// bookBody は有効な書籍登録リクエストを返す。overridesで項目を上書きできる。
func bookBody(isbn string, overrides map[string]any) map[string]any {
	body := map[string]any{
		"title":            "Go言語による並行処理",
		"author":           "Katherine Cox-Buday",
		"isbn":             isbn,
		"published_year":   2018,
		"description":      "Goの並行処理パターンを解説する",
		"total_copies":     3,
		"available_copies": 3,
		"price":            "3520.00",
		"category_ids":     []int64{1},
	}
	for k, v := range overrides {
		if v == nil {
			delete(body, k)
			continue
		}
		body[k] = v
	}
	return body
}

// createTestBook はAPI経由で書籍を登録し、IDを返すヘルパー関数。
func createTestBook(t *testing.T, env *testEnv, isbn string, overrides map[string]any) int64 {
	t.Helper()
	w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleAdmin, bookBody(isbn, overrides))
	if w.Code != http.StatusCreated {
		t.Fatalf("テスト用書籍の登録に失敗: status=%d, body=%s", w.Code, w.Body.String())
	}
	return int64(parseJSON(t, w)["id"].(float64))
}

// ids はレスポンス配列からIDを取り出す。
func ids(items []map[string]any) []int64 {
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, int64(item["id"].(float64)))
	}
	return out
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	w := doRequest(t, env.router, http.MethodGet, "/health", "", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	body := parseJSON(t, w)
	if body["service"] != ServiceName {
		t.Errorf("service: got %v, want %v", body["service"], ServiceName)
	}
}

// TestAuthorization は認証と権限の検証を行う。
func TestAuthorization(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)

	t.Run("トークンが無い場合はUnauthorized", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, env.router, http.MethodGet, "/api/v1/books", "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("USERロールでも参照はできる", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, env.router, http.MethodGet, "/api/v1/books", middleware.RoleUser, nil)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("USERロールでは登録できずForbidden", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleUser, bookBody("1111111111", nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("USERロールでは貸出できずForbidden", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, env.router, http.MethodPost, "/api/v1/books/1/borrow", middleware.RoleUser, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

// TestCreateBook は書籍登録APIを検証する。
func TestCreateBook(t *testing.T) {
	t.Parallel()

	t.Run("正常に書籍を登録できる", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleAdmin,
			bookBody("9784873118468", map[string]any{"price": 3520.5, "category_ids": []int64{2, 1, 2}}))

		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		body := parseJSON(t, w)
		if body["isbn"] != "9784873118468" {
			t.Errorf("isbn: got %v", body["isbn"])
		}
		if body["status"] != string(StatusAvailable) {
			t.Errorf("status: got %v, want %v", body["status"], StatusAvailable)
		}
		if body["price"] != 3520.5 {
			t.Errorf("price: got %v, want 3520.5", body["price"])
		}
		if !bytes.Contains(w.Body.Bytes(), []byte(`"price":3520.50`)) {
			t.Errorf("priceが小数2桁で出力されていない: %s", w.Body.String())
		}
		cats, _ := body["category_ids"].([]any)
		if len(cats) != 2 || cats[0] != float64(1) || cats[1] != float64(2) {
			t.Errorf("category_ids: got %v, want [1 2]", body["category_ids"])
		}
		if got := env.events.types(); !slices.Equal(got, []event.Type{event.TypeBookCreated}) {
			t.Errorf("events: got %v", got)
		}
	})

	t.Run("カテゴリ未指定ならカテゴリサービスに問い合わせない", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		createTestBook(t, env, "1234567890", map[string]any{"category_ids": nil})
		if env.categories.calls != 0 {
			t.Errorf("カテゴリ検証の呼び出し回数: got %d, want 0", env.categories.calls)
		}
	})

	invalid := []struct {
		name      string
		overrides map[string]any
	}{
		{"タイトルが空白のみ", map[string]any{"title": "   "}},
		{"タイトルが200文字超", map[string]any{"title": string(bytes.Repeat([]byte("あ"), 201))}},
		{"著者が未指定", map[string]any{"author": nil}},
		{"ISBNが桁数不正", map[string]any{"isbn": "12345"}},
		{"ISBNにハイフンを含む", map[string]any{"isbn": "978-4873118"}},
		{"出版年が1000未満", map[string]any{"published_year": 999}},
		{"出版年が9999超", map[string]any{"published_year": 10000}},
		{"説明が500文字超", map[string]any{"description": string(bytes.Repeat([]byte("a"), 501))}},
		{"総冊数が未指定", map[string]any{"total_copies": nil}},
		{"総冊数が負数", map[string]any{"total_copies": -1}},
		{"貸出可能数が総冊数超", map[string]any{"available_copies": 4}},
		{"価格が0", map[string]any{"price": 0}},
		{"価格が未指定", map[string]any{"price": nil}},
		{"価格の小数が3桁", map[string]any{"price": "10.005"}},
		{"価格の整数部が11桁", map[string]any{"price": "12345678901"}},
		{"不明なステータス", map[string]any{"status": "LOST"}},
		{"カテゴリIDが0以下", map[string]any{"category_ids": []int64{0}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name+"の場合はBadRequest", func(t *testing.T) {
			t.Parallel()

			env := setupTestServer(t)
			w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleAdmin, bookBody("1234567890", tt.overrides))
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if len(env.events.types()) != 0 {
				t.Error("失敗時にイベントが発行された")
			}
		})
	}

	t.Run("ISBNが重複する場合はBadRequest", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		createTestBook(t, env, "1234567890", nil)
		w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleAdmin, bookBody("1234567890", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("非アクティブなカテゴリを含む場合はBadRequest", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleAdmin,
			bookBody("1234567890", map[string]any{"category_ids": []int64{1, 4, 99}}))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		got, _ := parseJSON(t, w)["invalid_ids"].([]any)
		if len(got) != 2 || got[0] != float64(4) || got[1] != float64(99) {
			t.Errorf("invalid_ids: got %v, want [4 99]", got)
		}

		list := parseJSONArray(t, doRequest(t, env.router, http.MethodGet, "/api/v1/books", middleware.RoleAdmin, nil))
		if len(list) != 0 {
			t.Errorf("書籍が登録されてしまった: %v", list)
		}
	})

	t.Run("カテゴリサービスに接続できない場合はServiceUnavailable", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		env.categories.err = ErrCategoryServiceUnavailable
		w := doRequest(t, env.router, http.MethodPost, "/api/v1/books", middleware.RoleAdmin, bookBody("1234567890", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	})
}

// TestGetBook は書籍詳細取得APIを検証する。
func TestGetBook(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	id := createTestBook(t, env, "1234567890", nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"正常に書籍を取得できる", "/api/v1/books/" + itoa(id), http.StatusOK},
		{"存在しない書籍の場合はNotFound", "/api/v1/books/999", http.StatusNotFound},
		{"IDが数値でない場合はBadRequest", "/api/v1/books/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := doRequest(t, env.router, http.MethodGet, tt.path, middleware.RoleUser, nil)
			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード: got %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestListFilters は各種一覧APIを検証する。
func TestListFilters(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	full := createTestBook(t, env, "1000000001", map[string]any{"total_copies": 2, "available_copies": 2, "category_ids": []int64{1}})
	partial := createTestBook(t, env, "1000000002", map[string]any{"total_copies": 2, "available_copies": 1, "category_ids": []int64{1, 2}})
	empty := createTestBook(t, env, "1000000003", map[string]any{"total_copies": 1, "available_copies": 0, "status": "UNAVAILABLE", "category_ids": []int64{3}})

	tests := []struct {
		name string
		path string
		want []int64
	}{
		{"全件", "/api/v1/books", []int64{full, partial, empty}},
		{"貸出可能", "/api/v1/books/available", []int64{full, partial}},
		{"在庫切れ", "/api/v1/books/out-of-stock", []int64{empty}},
		{"貸出中あり", "/api/v1/books/borrowed", []int64{partial, empty}},
		{"ステータス別", "/api/v1/books/status/UNAVAILABLE", []int64{empty}},
		{"ステータスは小文字でもよい", "/api/v1/books/status/available", []int64{full, partial}},
		{"該当なしのステータス", "/api/v1/books/status/DISCONTINUED", []int64{}},
		{"カテゴリ別", "/api/v1/books/category/1", []int64{full, partial}},
		{"該当なしのカテゴリ", "/api/v1/books/category/42", []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := doRequest(t, env.router, http.MethodGet, tt.path, middleware.RoleUser, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
			}
			if got := ids(parseJSONArray(t, w)); !slices.Equal(got, tt.want) {
				t.Errorf("ID: got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("不明なステータスの場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		w := doRequest(t, env.router, http.MethodGet, "/api/v1/books/status/LOST", middleware.RoleUser, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestExistsByISBN はISBN確認APIを検証する。
func TestExistsByISBN(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	createTestBook(t, env, "1234567890", nil)

	for isbn, want := range map[string]bool{"1234567890": true, "0987654321": false} {
		w := doRequest(t, env.router, http.MethodGet, "/api/v1/books/isbn/"+isbn, middleware.RoleUser, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		body := parseJSON(t, w)
		if body["exists"] != want || body["isbn"] != isbn {
			t.Errorf("%s: got %v, want exists=%v", isbn, body, want)
		}
	}
}

// TestSearch は条件検索APIを検証する。
func TestSearch(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	goBook := createTestBook(t, env, "2000000001", map[string]any{"title": "Go Programming", "author": "Alan Donovan", "price": "4000.00", "published_year": 2015})
	goConc := createTestBook(t, env, "2000000002", map[string]any{"title": "Concurrency in Go", "author": "Katherine Cox-Buday", "price": "3520.00", "published_year": 2017})
	rust := createTestBook(t, env, "2000000003", map[string]any{"title": "The Rust Book", "author": "Steve Klabnik", "price": "2999.99", "published_year": 2019, "status": "DISCONTINUED"})

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{"条件なしは全件", "", []int64{goBook, goConc, rust}},
		{"タイトルの部分一致は大文字小文字を区別しない", "?title=go", []int64{goBook, goConc}},
		{"著者の部分一致", "?author=KLAB", []int64{rust}},
		{"価格範囲", "?min_price=3000&max_price=3600", []int64{goConc}},
		{"価格は上限のみでは絞り込まない", "?max_price=3000", []int64{goBook, goConc, rust}},
		{"出版年範囲", "?year_from=2016&year_to=2019", []int64{goConc, rust}},
		{"出版年は下限のみでは絞り込まない", "?year_from=2018", []int64{goBook, goConc, rust}},
		{"ステータス", "?status=DISCONTINUED", []int64{rust}},
		{"複数条件はAND", "?title=go&year_from=2016&year_to=2020", []int64{goConc}},
		{"該当なし", "?title=python", []int64{}},
		{"価格の上限が有効範囲を超えても絞り込める", "?min_price=1&max_price=100000000000000000", []int64{goBook, goConc, rust}},
		{"価格の下限が負数でも絞り込める", "?min_price=-5&max_price=3000", []int64{rust}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := doRequest(t, env.router, http.MethodGet, "/api/v1/books/search"+tt.query, middleware.RoleUser, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
			}
			if got := ids(parseJSONArray(t, w)); !slices.Equal(got, tt.want) {
				t.Errorf("ID: got %v, want %v", got, tt.want)
			}
		})
	}

	for _, q := range []string{"?status=LOST", "?min_price=abc&max_price=10", "?year_from=x&year_to=2000"} {
		t.Run("不正な条件はBadRequest"+q, func(t *testing.T) {
			t.Parallel()
			w := doRequest(t, env.router, http.MethodGet, "/api/v1/books/search"+q, middleware.RoleUser, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestUpdateBook は書籍更新APIを検証する。
func TestUpdateBook(t *testing.T) {
	t.Parallel()

	t.Run("指定したフィールドのみ更新される", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		id := createTestBook(t, env, "1234567890", map[string]any{"category_ids": []int64{1, 2}})

		w := doRequest(t, env.router, http.MethodPut, "/api/v1/books/"+itoa(id), middleware.RoleAdmin, map[string]any{
			"title": "改訂版",
			"price": "1000",
			"isbn":  "0000000000",
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		body := parseJSON(t, w)
		if body["title"] != "改訂版" {
			t.Errorf("title: got %v", body["title"])
		}
		if body["author"] != "Katherine Cox-Buday" {
			t.Errorf("author: got %v", body["author"])
		}
		if body["isbn"] != "1234567890" {
			t.Errorf("ISBNは変更されないはず: got %v", body["isbn"])
		}
		if body["price"] != float64(1000) {
			t.Errorf("price: got %v", body["price"])
		}
		if cats, _ := body["category_ids"].([]any); len(cats) != 2 {
			t.Errorf("category_idsは維持されるはず: got %v", body["category_ids"])
		}
		if got := env.events.types(); !slices.Equal(got, []event.Type{event.TypeBookCreated, event.TypeBookUpdated}) {
			t.Errorf("events: got %v", got)
		}
	})

	t.Run("category_idsを指定すると置き換えられる", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		id := createTestBook(t, env, "1234567890", map[string]any{"category_ids": []int64{1, 2}})

		w := doRequest(t, env.router, http.MethodPut, "/api/v1/books/"+itoa(id), middleware.RoleAdmin, map[string]any{
			"category_ids": []int64{3},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if cats, _ := parseJSON(t, w)["category_ids"].([]any); len(cats) != 1 || cats[0] != float64(3) {
			t.Errorf("category_ids: got %v, want [3]", cats)
		}

		w = doRequest(t, env.router, http.MethodPut, "/api/v1/books/"+itoa(id), middleware.RoleAdmin, map[string]any{
			"category_ids": []int64{},
		})
		if cats, _ := parseJSON(t, w)["category_ids"].([]any); len(cats) != 0 {
			t.Errorf("category_ids: got %v, want []", cats)
		}
	})

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"貸出可能数が総冊数を超える場合はBadRequest", map[string]any{"total_copies": 1}, http.StatusBadRequest},
		{"タイトルが空白の場合はBadRequest", map[string]any{"title": " "}, http.StatusBadRequest},
		{"価格が負数の場合はBadRequest", map[string]any{"price": -1}, http.StatusBadRequest},
		{"無効なカテゴリの場合はBadRequest", map[string]any{"category_ids": []int64{4}}, http.StatusBadRequest},
		{"総冊数と貸出可能数を同時に変更できる", map[string]any{"total_copies": 1, "available_copies": 1}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestServer(t)
			id := createTestBook(t, env, "1234567890", nil)
			w := doRequest(t, env.router, http.MethodPut, "/api/v1/books/"+itoa(id), middleware.RoleAdmin, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	t.Run("カテゴリ確認中の貸出は更新で上書きされない", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		id := createTestBook(t, env, "1234567890", nil)
		path := "/api/v1/books/" + itoa(id)

		env.categories.during = func() {
			w := doRequest(t, env.router, http.MethodPost, path+"/borrow", middleware.RoleAdmin, nil)
			if w.Code != http.StatusOK {
				t.Errorf("貸出: got %d, want %d", w.Code, http.StatusOK)
			}
		}

		w := doRequest(t, env.router, http.MethodPut, path, middleware.RoleAdmin, map[string]any{
			"title":        "renamed",
			"category_ids": []int64{1},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		body := parseJSON(t, doRequest(t, env.router, http.MethodGet, path, middleware.RoleUser, nil))
		if body["title"] != "renamed" {
			t.Errorf("title: got %v, want renamed", body["title"])
		}
		if body["available_copies"] != float64(2) {
			t.Errorf("available_copies: got %v, want 2", body["available_copies"])
		}
	})

	t.Run("貸出中の冊数より総冊数を減らす場合はBadRequest", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		id := createTestBook(t, env, "1234567890", nil)
		path := "/api/v1/books/" + itoa(id)
		if w := doRequest(t, env.router, http.MethodPost, path+"/borrow", middleware.RoleAdmin, nil); w.Code != http.StatusOK {
			t.Fatalf("貸出: got %d, want %d", w.Code, http.StatusOK)
		}

		w := doRequest(t, env.router, http.MethodPut, path, middleware.RoleAdmin, map[string]any{"total_copies": 1})
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
		body := parseJSON(t, doRequest(t, env.router, http.MethodGet, path, middleware.RoleUser, nil))
		if body["total_copies"] != float64(3) || body["available_copies"] != float64(2) {
			t.Errorf("冊数は変わらないはず: got total=%v available=%v", body["total_copies"], body["available_copies"])
		}
	})

	t.Run("存在しない書籍の場合はNotFound", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		w := doRequest(t, env.router, http.MethodPut, "/api/v1/books/999", middleware.RoleAdmin, map[string]any{"title": "x"})
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestBorrowAndReturn は貸出・返却APIを検証する。
func TestBorrowAndReturn(t *testing.T) {
	t.Parallel()

	t.Run("在庫がなくなるまで貸出でき、全冊返却後は返却できない", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		id := createTestBook(t, env, "1234567890", map[string]any{"total_copies": 2, "available_copies": 2})
		base := "/api/v1/books/" + itoa(id)

		steps := []struct {
			path          string
			wantStatus    int
			wantAvailable float64
		}{
			{base + "/return", http.StatusBadRequest, 2},
			{base + "/borrow", http.StatusOK, 1},
			{base + "/borrow", http.StatusOK, 0},
			{base + "/borrow", http.StatusBadRequest, 0},
			{base + "/return", http.StatusOK, 1},
			{base + "/return", http.StatusOK, 2},
			{base + "/return", http.StatusBadRequest, 2},
		}
		for i, step := range steps {
			w := doRequest(t, env.router, http.MethodPost, step.path, middleware.RoleAdmin, nil)
			if w.Code != step.wantStatus {
				t.Fatalf("手順%d: ステータスコード: got %d, want %d, body=%s", i+1, w.Code, step.wantStatus, w.Body.String())
			}
			got := parseJSON(t, doRequest(t, env.router, http.MethodGet, base, middleware.RoleUser, nil))
			if got["available_copies"] != step.wantAvailable {
				t.Fatalf("手順%d: available_copies: got %v, want %v", i+1, got["available_copies"], step.wantAvailable)
			}
		}

		want := []event.Type{event.TypeBookCreated, event.TypeBookBorrowed, event.TypeBookBorrowed, event.TypeBookReturned, event.TypeBookReturned}
		if got := env.events.types(); !slices.Equal(got, want) {
			t.Errorf("events: got %v, want %v", got, want)
		}
	})

	t.Run("同時に貸出しても在庫数を超えて貸し出さない", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		id := createTestBook(t, env, "1234567890", map[string]any{"total_copies": 5, "available_copies": 5})

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for range 12 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w := doRequest(t, env.router, http.MethodPost, "/api/v1/books/"+itoa(id)+"/borrow", middleware.RoleAdmin, nil)
				if w.Code == http.StatusOK {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if succeeded != 5 {
			t.Errorf("貸出成功数: got %d, want 5", succeeded)
		}
		got := parseJSON(t, doRequest(t, env.router, http.MethodGet, "/api/v1/books/"+itoa(id), middleware.RoleUser, nil))
		if got["available_copies"] != float64(0) {
			t.Errorf("available_copies: got %v, want 0", got["available_copies"])
		}
	})

	t.Run("存在しない書籍の場合はNotFound", func(t *testing.T) {
		t.Parallel()

		env := setupTestServer(t)
		for _, action := range []string{"borrow", "return"} {
			w := doRequest(t, env.router, http.MethodPost, "/api/v1/books/999/"+action, middleware.RoleAdmin, nil)
			if w.Code != http.StatusNotFound {
				t.Errorf("%s: ステータスコード: got %d, want %d", action, w.Code, http.StatusNotFound)
			}
		}
	})
}

// TestDeleteBook は書籍削除APIを検証する。
func TestDeleteBook(t *testing.T) {
	t.Parallel()

	env := setupTestServer(t)
	id := createTestBook(t, env, "1234567890", map[string]any{"category_ids": []int64{1}})

	w := doRequest(t, env.router, http.MethodDelete, "/api/v1/books/"+itoa(id), middleware.RoleAdmin, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
	}

	w = doRequest(t, env.router, http.MethodGet, "/api/v1/books/category/1", middleware.RoleUser, nil)
	if got := parseJSONArray(t, w); len(got) != 0 {
		t.Errorf("削除後もカテゴリ別一覧に残っている: %v", got)
	}

	w = doRequest(t, env.router, http.MethodDelete, "/api/v1/books/"+itoa(id), middleware.RoleAdmin, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("2回目の削除: got %d, want %d", w.Code, http.StatusNotFound)
	}

	if got := env.events.types(); !slices.Equal(got, []event.Type{event.TypeBookCreated, event.TypeBookDeleted}) {
		t.Errorf("events: got %v", got)
	}
}

// TestEventFailureDoesNotFailRequest はイベント発行の失敗がAPIの結果に影響しないことを検証する。
func TestEventFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	sqlDB, err := database.OpenAndMigrate(context.Background(), database.MemoryPath, Migrations, MigrationsDir, logger)
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewServer(sqlDB, &fakeCategories{active: map[int64]bool{1: true}}, failingPublisher{}, logger, testSecret)
	w := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/books", middleware.RoleAdmin, bookBody("1234567890", nil))
	if w.Code != http.StatusCreated {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusCreated)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *event.Event) error {
	return errors.New("stream unavailable")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
