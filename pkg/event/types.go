package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeBook は書籍エンティティを表す。
	AggregateTypeBook AggregateType = "Book"
	// AggregateTypeCategory はカテゴリエンティティを表す。
	AggregateTypeCategory AggregateType = "Category"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeBookCreated は書籍が登録されたことを表す。
	TypeBookCreated Type = "BookCreated"
	// TypeBookUpdated は書籍情報が更新されたことを表す。
	TypeBookUpdated Type = "BookUpdated"
	// TypeBookBorrowed は書籍が1冊貸し出されたことを表す。
	TypeBookBorrowed Type = "BookBorrowed"
	// TypeBookReturned は書籍が1冊返却されたことを表す。
	TypeBookReturned Type = "BookReturned"
	// TypeBookDeleted は書籍が削除されたことを表す。
	TypeBookDeleted Type = "BookDeleted"

	// TypeCategoryCreated はカテゴリが作成されたことを表す。
	TypeCategoryCreated Type = "CategoryCreated"
	// TypeCategoryUpdated はカテゴリが更新されたことを表す。
	TypeCategoryUpdated Type = "CategoryUpdated"
	// TypeCategoryDeleted はカテゴリが削除されたことを表す。
	TypeCategoryDeleted Type = "CategoryDeleted"
)

// Event はサービス間で共有するドメインイベントを表す。
// Redis Streamのエントリとして発行される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// UserID は操作を行ったユーザーのID。不明な場合は空文字列。
	UserID string `json:"user_id,omitempty"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// BookData はBookCreated/BookUpdatedイベントのデータ。
type BookData struct {
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	ISBN            string  `json:"isbn"`
	Status          string  `json:"status"`
	Price           string  `json:"price"`
	TotalCopies     int64   `json:"total_copies"`
	AvailableCopies int64   `json:"available_copies"`
	CategoryIDs     []int64 `json:"category_ids"`
}

// BookCirculationData はBookBorrowed/BookReturnedイベントのデータ。
type BookCirculationData struct {
	// AvailableCopies は操作後の在庫数。
	AvailableCopies int64 `json:"available_copies"`
	// TotalCopies は総冊数。
	TotalCopies int64 `json:"total_copies"`
}

// BookDeletedData はBookDeletedイベントのデータ。
type BookDeletedData struct {
	// ISBN は削除された書籍のISBN。
	ISBN string `json:"isbn"`
}

// CategoryData はカテゴリ系イベントのデータ。
type CategoryData struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
