package db

import "time"

// Book はbooksテーブルの1行。
type Book struct {
	ID              int64
	Title           string
	Author          string
	Isbn            string
	PublishedYear   int64
	Description     string
	TotalCopies     int64
	AvailableCopies int64
	PriceCents      int64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BookCategory はbook_categoriesテーブルの1行。
type BookCategory struct {
	BookID     int64
	CategoryID int64
}
