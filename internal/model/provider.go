package model

import "time"

// ProviderLoginAttempt is the single-use anti-CSRF record behind a
// federated login redirect. It is consumed exactly once on callback.
type ProviderLoginAttempt struct {
	ID        string    `db:"id" json:"id"`
	State     string    `db:"state" json:"-"`
	Provider  string    `db:"provider" json:"provider"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateProviderLoginAttemptParams struct {
	State     string
	Provider  string
	ExpiresAt time.Time
}
