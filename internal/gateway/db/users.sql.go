package db

import "context"

const createUser = `
INSERT INTO users (id, email, display_name, role)
VALUES (?1, ?2, ?3, ?4)
`

// CreateUserParams はCreateUserの引数。
type CreateUserParams struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
}

// CreateUser はユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.Email, arg.DisplayName, arg.Role)
	return err
}

const getUserByID = `
SELECT id, email, display_name, role, created_at, last_login_at
FROM users
WHERE id = ?1
`

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByID, id)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt, &u.LastLoginAt)
	return u, err
}

const getUserByEmail = `
SELECT id, email, display_name, role, created_at, last_login_at
FROM users
WHERE email = ?1
`

// GetUserByEmail はメールアドレスでユーザーを取得する。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByEmail, email)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, &u.CreatedAt, &u.LastLoginAt)
	return u, err
}

const updateLastLogin = `
UPDATE users SET last_login_at = datetime('now') WHERE id = ?1
`

// UpdateLastLogin は最終ログイン日時を更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, updateLastLogin, id)
	return err
}
