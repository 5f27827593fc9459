package db

import (
	"context"
	"database/sql"
	"encoding/json"
)

const bookColumns = `id, title, author, isbn, published_year, description, total_copies, available_copies, price_cents, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (Book, error) {
	var b Book
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&b.Isbn,
		&b.PublishedYear,
		&b.Description,
		&b.TotalCopies,
		&b.AvailableCopies,
		&b.PriceCents,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func (q *Queries) listBooks(ctx context.Context, query string, args ...any) ([]Book, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createBook = `INSERT INTO books (
    title, author, isbn, published_year, description, total_copies, available_copies, price_cents, status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateBookParams はCreateBookの引数。
type CreateBookParams struct {
	Title           string
	Author          string
	Isbn            string
	PublishedYear   int64
	Description     string
	TotalCopies     int64
	AvailableCopies int64
	PriceCents      int64
	Status          string
}

// CreateBook は書籍を登録し、採番されたIDを返す。
func (q *Queries) CreateBook(ctx context.Context, arg CreateBookParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createBook,
		arg.Title,
		arg.Author,
		arg.Isbn,
		arg.PublishedYear,
		arg.Description,
		arg.TotalCopies,
		arg.AvailableCopies,
		arg.PriceCents,
		arg.Status,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const getBookByID = `SELECT ` + bookColumns + ` FROM books WHERE id = ?`

// GetBookByID はIDで書籍を取得する。存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetBookByID(ctx context.Context, id int64) (Book, error) {
	return scanBook(q.db.QueryRowContext(ctx, getBookByID, id))
}

const existsBookByIsbn = `SELECT EXISTS(SELECT 1 FROM books WHERE isbn = ?)`

// ExistsBookByIsbn は指定ISBNの書籍が登録済みかを返す。
func (q *Queries) ExistsBookByIsbn(ctx context.Context, isbn string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, existsBookByIsbn, isbn).Scan(&exists)
	return exists, err
}

const listBooks = `SELECT ` + bookColumns + ` FROM books ORDER BY id`

// ListBooks は全書籍をID順に返す。
func (q *Queries) ListBooks(ctx context.Context) ([]Book, error) {
	return q.listBooks(ctx, listBooks)
}

const listAvailableBooks = `SELECT ` + bookColumns + ` FROM books WHERE available_copies > 0 ORDER BY id`

// ListAvailableBooks は貸出可能な在庫がある書籍を返す。
func (q *Queries) ListAvailableBooks(ctx context.Context) ([]Book, error) {
	return q.listBooks(ctx, listAvailableBooks)
}

const listOutOfStockBooks = `SELECT ` + bookColumns + ` FROM books WHERE available_copies = 0 ORDER BY id`

// ListOutOfStockBooks は在庫が0の書籍を返す。
func (q *Queries) ListOutOfStockBooks(ctx context.Context) ([]Book, error) {
	return q.listBooks(ctx, listOutOfStockBooks)
}

const listBorrowedBooks = `SELECT ` + bookColumns + ` FROM books WHERE total_copies > available_copies ORDER BY id`

// ListBorrowedBooks は1冊以上貸出中の書籍を返す。
func (q *Queries) ListBorrowedBooks(ctx context.Context) ([]Book, error) {
	return q.listBooks(ctx, listBorrowedBooks)
}

const listBooksByStatus = `SELECT ` + bookColumns + ` FROM books WHERE status = ? ORDER BY id`

// ListBooksByStatus は指定ステータスの書籍を返す。
func (q *Queries) ListBooksByStatus(ctx context.Context, status string) ([]Book, error) {
	return q.listBooks(ctx, listBooksByStatus, status)
}

const listBooksByCategoryID = `SELECT ` + bookColumns + ` FROM books
WHERE id IN (SELECT book_id FROM book_categories WHERE category_id = ?)
ORDER BY id`

// ListBooksByCategoryID は指定カテゴリに属する書籍を返す。
func (q *Queries) ListBooksByCategoryID(ctx context.Context, categoryID int64) ([]Book, error) {
	return q.listBooks(ctx, listBooksByCategoryID, categoryID)
}

const searchBooks = `SELECT ` + bookColumns + ` FROM books
WHERE (?1 = '' OR instr(lower(title), lower(?1)) > 0)
  AND (?2 = '' OR instr(lower(author), lower(?2)) > 0)
  AND (?3 IS NULL OR ?4 IS NULL OR price_cents BETWEEN ?3 AND ?4)
  AND (?5 IS NULL OR ?6 IS NULL OR published_year BETWEEN ?5 AND ?6)
  AND (?7 = '' OR status = ?7)
ORDER BY id`

// SearchBooksParams はSearchBooksの引数。空文字列やNULLの条件は無視される。
type SearchBooksParams struct {
	Title         string
	Author        string
	MinPriceCents sql.NullInt64
	MaxPriceCents sql.NullInt64
	YearFrom      sql.NullInt64
	YearTo        sql.NullInt64
	Status        string
}

// SearchBooks は指定された条件をすべて満たす書籍を返す。
// 価格範囲と出版年範囲は上下限の両方が指定された場合のみ適用する。
func (q *Queries) SearchBooks(ctx context.Context, arg SearchBooksParams) ([]Book, error) {
	return q.listBooks(ctx, searchBooks,
		arg.Title,
		arg.Author,
		arg.MinPriceCents,
		arg.MaxPriceCents,
		arg.YearFrom,
		arg.YearTo,
		arg.Status,
	)
}

const updateBook = `UPDATE books SET
    title = COALESCE(?1, title),
    author = COALESCE(?2, author),
    published_year = COALESCE(?3, published_year),
    description = COALESCE(?4, description),
    total_copies = COALESCE(?5, total_copies),
    available_copies = COALESCE(?6, available_copies),
    price_cents = COALESCE(?7, price_cents),
    status = COALESCE(?8, status),
    updated_at = datetime('now')
WHERE id = ?9
  AND COALESCE(?6, available_copies) <= COALESCE(?5, total_copies)`

// UpdateBookParams はUpdateBookの引数。Validでないフィールドは現在の値を維持する。
type UpdateBookParams struct {
	Title           sql.NullString
	Author          sql.NullString
	PublishedYear   sql.NullInt64
	Description     sql.NullString
	TotalCopies     sql.NullInt64
	AvailableCopies sql.NullInt64
	PriceCents      sql.NullInt64
	Status          sql.NullString
	ID              int64
}

// UpdateBook は指定されたフィールドのみ更新し、更新した行数を返す。
// 更新後の貸出可能数が総冊数を超える場合は更新せず0を返す。
func (q *Queries) UpdateBook(ctx context.Context, arg UpdateBookParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateBook,
		arg.Title,
		arg.Author,
		arg.PublishedYear,
		arg.Description,
		arg.TotalCopies,
		arg.AvailableCopies,
		arg.PriceCents,
		arg.Status,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const borrowBook = `UPDATE books SET available_copies = available_copies - 1, updated_at = datetime('now')
WHERE id = ? AND available_copies > 0`

// BorrowBook は在庫がある場合のみ貸出可能数を1減らし、更新した行数を返す。
func (q *Queries) BorrowBook(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, borrowBook, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const returnBook = `UPDATE books SET available_copies = available_copies + 1, updated_at = datetime('now')
WHERE id = ? AND available_copies < total_copies`

// ReturnBook は貸出中の冊がある場合のみ貸出可能数を1増やし、更新した行数を返す。
func (q *Queries) ReturnBook(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, returnBook, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteBook = `DELETE FROM books WHERE id = ?`

// DeleteBook は書籍を削除し、削除した行数を返す。
func (q *Queries) DeleteBook(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteBook, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const addBookCategory = `INSERT OR IGNORE INTO book_categories (book_id, category_id) VALUES (?, ?)`

// AddBookCategoryParams はAddBookCategoryの引数。
type AddBookCategoryParams struct {
	BookID     int64
	CategoryID int64
}

// AddBookCategory は書籍にカテゴリを関連付ける。既に関連付け済みなら何もしない。
func (q *Queries) AddBookCategory(ctx context.Context, arg AddBookCategoryParams) error {
	_, err := q.db.ExecContext(ctx, addBookCategory, arg.BookID, arg.CategoryID)
	return err
}

const deleteBookCategories = `DELETE FROM book_categories WHERE book_id = ?`

// DeleteBookCategories は書籍のカテゴリ関連付けをすべて削除する。
func (q *Queries) DeleteBookCategories(ctx context.Context, bookID int64) error {
	_, err := q.db.ExecContext(ctx, deleteBookCategories, bookID)
	return err
}

const listBookCategoriesByBookIDs = `SELECT book_id, category_id FROM book_categories
WHERE book_id IN (SELECT value FROM json_each(?))
ORDER BY book_id, category_id`

// ListBookCategoriesByBookIDs は複数書籍のカテゴリ関連付けをまとめて返す。
func (q *Queries) ListBookCategoriesByBookIDs(ctx context.Context, bookIDs []int64) ([]BookCategory, error) {
	ids, err := json.Marshal(bookIDs)
	if err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, listBookCategoriesByBookIDs, string(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []BookCategory{}
	for rows.Next() {
		var i BookCategory
		if err := rows.Scan(&i.BookID, &i.CategoryID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
