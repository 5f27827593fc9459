package book

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nao1215/bookshelf/pkg/httpclient"
	"github.com/nao1215/bookshelf/pkg/metrics"
)

// CategoryServiceName はディスカバリーに登録されているカテゴリサービスの名前。
const CategoryServiceName = "category-service"

// ErrCategoryServiceUnavailable はカテゴリサービスに問い合わせできなかったことを表す。
var ErrCategoryServiceUnavailable = errors.New("カテゴリサービスに接続できません")

// CategoryValidator はカテゴリIDが存在し有効であるかを確認する。
type CategoryValidator interface {
	// Validate は無効または非アクティブなIDを昇順で返す。すべて有効なら空スライスを返す。
	Validate(ctx context.Context, ids []int64) ([]int64, error)
}

// validateRequest はカテゴリサービスの検証APIのリクエスト。
type validateRequest struct {
	IDs []int64 `json:"ids"`
}

// validateResponse はカテゴリサービスの検証APIのレスポンス。
type validateResponse struct {
	Valid      bool    `json:"valid"`
	InvalidIDs []int64 `json:"invalid_ids"`
}

// CategoryClient はカテゴリサービスの検証APIを呼び出すCategoryValidator。
// 結果はIDごとに一定時間キャッシュする。
type CategoryClient struct {
	client *httpclient.Client
	cache  *expirable.LRU[int64, bool]
}

// NewCategoryClient はCategoryClientを生成する。
func NewCategoryClient(client *httpclient.Client, cacheSize int, cacheTTL time.Duration) *CategoryClient {
	return &CategoryClient{
		client: client,
		cache:  expirable.NewLRU[int64, bool](cacheSize, nil, cacheTTL),
	}
}

// Validate はキャッシュにないIDのみカテゴリサービスに問い合わせる。
func (c *CategoryClient) Validate(ctx context.Context, ids []int64) ([]int64, error) {
	invalid := []int64{}
	var unknown []int64
	for _, id := range uniqueIDs(ids) {
		valid, ok := c.cache.Get(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if !valid {
			invalid = append(invalid, id)
		}
	}
	if len(ids) > 0 {
		metrics.CategoryValidations.WithLabelValues("cache", "hit").Add(float64(len(ids) - len(unknown)))
	}

	if len(unknown) > 0 {
		var resp validateResponse
		if err := c.client.PostJSON(ctx, "/api/v1/categories/validate", validateRequest{IDs: unknown}, &resp); err != nil {
			metrics.CategoryValidations.WithLabelValues("remote", "error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrCategoryServiceUnavailable, err)
		}
		metrics.CategoryValidations.WithLabelValues("remote", "ok").Inc()

		for _, id := range unknown {
			valid := !slices.Contains(resp.InvalidIDs, id)
			c.cache.Add(id, valid)
			if !valid {
				invalid = append(invalid, id)
			}
		}
	}

	slices.Sort(invalid)
	return invalid, nil
}

// uniqueIDs は重複を除いたIDを昇順で返す。
func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
