package db

import (
	"context"
	"database/sql"
)

const userColumns = `username, password_hash, access_token, access_token_expiry, refresh_token, refresh_token_expiry, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.Username,
		&u.PasswordHash,
		&u.AccessToken,
		&u.AccessTokenExpiry,
		&u.RefreshToken,
		&u.RefreshTokenExpiry,
		&u.CreatedAt,
	)
	return u, err
}

const createUser = `INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`

type CreateUserParams struct {
	Username     string
	PasswordHash string
	CreatedAt    int64
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	_, err := q.db.ExecContext(ctx, createUser, arg.Username, arg.PasswordHash, arg.CreatedAt)
	return err
}

const userExists = `SELECT COUNT(*) FROM users WHERE username = ?`

func (q *Queries) UserExists(ctx context.Context, username string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, userExists, username).Scan(&count)
	return count, err
}

const getUser = `SELECT ` + userColumns + ` FROM users WHERE username = ?`

func (q *Queries) GetUser(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUser, username))
}

const getUserByAccessToken = `SELECT ` + userColumns + ` FROM users WHERE access_token = ?`

func (q *Queries) GetUserByAccessToken(ctx context.Context, accessToken string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByAccessToken, accessToken))
}

const getUserByRefreshToken = `SELECT ` + userColumns + ` FROM users WHERE refresh_token = ?`

func (q *Queries) GetUserByRefreshToken(ctx context.Context, refreshToken string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByRefreshToken, refreshToken))
}

const listUsernames = `SELECT username FROM users ORDER BY username`

func (q *Queries) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listUsernames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		items = append(items, username)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setTokens = `UPDATE users
SET access_token = ?, access_token_expiry = ?, refresh_token = ?, refresh_token_expiry = ?
WHERE username = ?`

type SetTokensParams struct {
	Username           string
	AccessToken        string
	AccessTokenExpiry  int64
	RefreshToken       string
	RefreshTokenExpiry int64
}

func (q *Queries) SetTokens(ctx context.Context, arg SetTokensParams) (sql.Result, error) {
	return q.db.ExecContext(ctx, setTokens,
		arg.AccessToken,
		arg.AccessTokenExpiry,
		arg.RefreshToken,
		arg.RefreshTokenExpiry,
		arg.Username,
	)
}

const resetTokens = `UPDATE users
SET access_token = NULL, access_token_expiry = NULL, refresh_token = NULL, refresh_token_expiry = NULL
WHERE username = ?`

func (q *Queries) ResetTokens(ctx context.Context, username string) (sql.Result, error) {
	return q.db.ExecContext(ctx, resetTokens, username)
}

const setAccessTokenExpiry = `UPDATE users SET access_token_expiry = ? WHERE username = ? AND access_token IS NOT NULL`

type SetAccessTokenExpiryParams struct {
	Username          string
	AccessTokenExpiry int64
}

func (q *Queries) SetAccessTokenExpiry(ctx context.Context, arg SetAccessTokenExpiryParams) (sql.Result, error) {
	return q.db.ExecContext(ctx, setAccessTokenExpiry, arg.AccessTokenExpiry, arg.Username)
}

const upsertScore = `INSERT INTO scores (username, entry_id, score, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (username, entry_id) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`

type UpsertScoreParams struct {
	Username  string
	EntryID   string
	Score     int64
	UpdatedAt int64
}

func (q *Queries) UpsertScore(ctx context.Context, arg UpsertScoreParams) error {
	_, err := q.db.ExecContext(ctx, upsertScore, arg.Username, arg.EntryID, arg.Score, arg.UpdatedAt)
	return err
}

const deleteScore = `DELETE FROM scores WHERE username = ? AND entry_id = ?`

type DeleteScoreParams struct {
	Username string
	EntryID  string
}

func (q *Queries) DeleteScore(ctx context.Context, arg DeleteScoreParams) error {
	_, err := q.db.ExecContext(ctx, deleteScore, arg.Username, arg.EntryID)
	return err
}

const listScores = `SELECT username, entry_id, score, updated_at FROM scores`

func (q *Queries) ListScores(ctx context.Context) ([]Score, error) {
	return q.queryScores(ctx, listScores)
}

const listScoresByUser = `SELECT username, entry_id, score, updated_at FROM scores WHERE username = ?`

func (q *Queries) ListScoresByUser(ctx context.Context, username string) ([]Score, error) {
	return q.queryScores(ctx, listScoresByUser, username)
}

func (q *Queries) queryScores(ctx context.Context, query string, args ...interface{}) ([]Score, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Score
	for rows.Next() {
		var s Score
		if err := rows.Scan(&s.Username, &s.EntryID, &s.Score, &s.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
