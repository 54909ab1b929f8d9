package models

import "time"

// RefreshToken is one row of the refresh token ledger. The token value is the
// primary key.
type RefreshToken struct {
	Token     string    `db:"token" json:"-"`
	UserID    string    `db:"user_id" json:"userId"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// RefreshSession is a live ledger row joined with its owner.
type RefreshSession struct {
	Token RefreshToken
	User  User
}
