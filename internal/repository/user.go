package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/pairlab/pairing-server-go/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	FindIdentity(ctx context.Context, provider, providerUserID string) (*model.UserIdentity, error)
	CreateIdentity(ctx context.Context, params model.CreateUserIdentityParams) error
}

type userRepo struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE email = $1
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (id, email, display_name, role)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING *
	`, params.Email, params.DisplayName, params.Role)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) FindIdentity(ctx context.Context, provider, providerUserID string) (*model.UserIdentity, error) {
	var identity model.UserIdentity
	err := r.db.GetContext(ctx, &identity, `
		SELECT * FROM user_identities
		WHERE provider = $1 AND provider_user_id = $2
	`, provider, providerUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *userRepo) CreateIdentity(ctx context.Context, params model.CreateUserIdentityParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_identities (provider, provider_user_id, user_id)
		VALUES ($1, $2, $3)
	`, params.Provider, params.ProviderUserID, params.UserID)
	return err
}
