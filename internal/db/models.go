package db

import "database/sql"

// Token expiries and timestamps are unix milliseconds.
type User struct {
	Username           string
	PasswordHash       string
	AccessToken        sql.NullString
	AccessTokenExpiry  sql.NullInt64
	RefreshToken       sql.NullString
	RefreshTokenExpiry sql.NullInt64
	CreatedAt          int64
}

type Score struct {
	Username  string
	EntryID   string
	Score     int64
	UpdatedAt int64
}
