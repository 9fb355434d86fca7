package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Role        string    `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type CreateUserParams struct {
	Email       string
	DisplayName string
	Role        string
}

// UserIdentity links a federated provider subject to a local user.
type UserIdentity struct {
	Provider       string    `db:"provider" json:"provider"`
	ProviderUserID string    `db:"provider_user_id" json:"providerUserId"`
	UserID         string    `db:"user_id" json:"userId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

type CreateUserIdentityParams struct {
	Provider       string
	ProviderUserID string
	UserID         string
}
