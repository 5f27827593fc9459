package db

import (
	"context"
	"encoding/json"
)

const categoryColumns = `id, name, description, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(row scanner) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const createCategory = `INSERT INTO categories (name, description, active) VALUES (?, ?, ?)`

// CreateCategoryParams はCreateCategoryの引数。
type CreateCategoryParams struct {
	Name        string
	Description string
	Active      bool
}

// CreateCategory はカテゴリを作成し、採番されたIDを返す。
func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createCategory, arg.Name, arg.Description, arg.Active)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const getCategoryByID = `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`

// GetCategoryByID はIDでカテゴリを取得する。存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetCategoryByID(ctx context.Context, id int64) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategoryByID, id))
}

const listCategories = `SELECT ` + categoryColumns + ` FROM categories ORDER BY id`

// ListCategories は全カテゴリをID順に返す。
func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listActiveCategoryIDs = `SELECT id FROM categories
WHERE active = 1 AND id IN (SELECT value FROM json_each(?))
ORDER BY id`

// ListActiveCategoryIDs は指定IDのうち存在し有効なものを返す。
func (q *Queries) ListActiveCategoryIDs(ctx context.Context, ids []int64) ([]int64, error) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}

	rows, err := q.db.QueryContext(ctx, listActiveCategoryIDs, string(raw))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateCategory = `UPDATE categories SET name = ?, description = ?, active = ?, updated_at = datetime('now') WHERE id = ?`

// UpdateCategoryParams はUpdateCategoryの引数。
type UpdateCategoryParams struct {
	Name        string
	Description string
	Active      bool
	ID          int64
}

// UpdateCategory はカテゴリを更新し、更新した行数を返す。
func (q *Queries) UpdateCategory(ctx context.Context, arg UpdateCategoryParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateCategory, arg.Name, arg.Description, arg.Active, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteCategory = `DELETE FROM categories WHERE id = ?`

// DeleteCategory はカテゴリを削除し、削除した行数を返す。
func (q *Queries) DeleteCategory(ctx context.Context, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteCategory, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
