package db

import "context"

const createUser = `
INSERT INTO users (telegram_id, username)
VALUES (?, ?)
ON CONFLICT (telegram_id) DO UPDATE SET username = excluded.username
RETURNING id, telegram_id, username, created_at
`

type CreateUserParams struct {
	TelegramID int64
	Username   string
}

// CreateUser inserts a user, or refreshes the username when the telegram
// id is already known. Get-or-create in one statement.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRowContext(ctx, createUser, arg.TelegramID, arg.Username)
	var u User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.CreatedAt)
	return u, err
}

const getUserByTelegramID = `
SELECT id, telegram_id, username, created_at
FROM users
WHERE telegram_id = ?
`

func (q *Queries) GetUserByTelegramID(ctx context.Context, telegramID int64) (User, error) {
	row := q.db.QueryRowContext(ctx, getUserByTelegramID, telegramID)
	var u User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.CreatedAt)
	return u, err
}
