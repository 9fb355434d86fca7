package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/pairlab/pairing-server-go/internal/model"
)

// ProviderStateRepository stores the single-use login attempts behind
// federated-provider redirects.
type ProviderStateRepository interface {
	Create(ctx context.Context, params model.CreateProviderLoginAttemptParams) (*model.ProviderLoginAttempt, error)

	// Consume atomically removes and returns the attempt for the state.
	// Returns nil, nil when the state is unknown or already consumed, so
	// a replayed callback can never match twice.
	Consume(ctx context.Context, state string) (*model.ProviderLoginAttempt, error)

	DeleteExpired(ctx context.Context) (int64, error)
}

// Backing table:
//
//	CREATE TABLE provider_login_attempts (
//	    id         TEXT PRIMARY KEY,
//	    state      TEXT NOT NULL UNIQUE,
//	    provider   TEXT NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type providerStateRepo struct {
	db *sqlx.DB
}

func NewProviderStateRepository(db *sqlx.DB) ProviderStateRepository {
	return &providerStateRepo{db: db}
}

func (r *providerStateRepo) Create(ctx context.Context, params model.CreateProviderLoginAttemptParams) (*model.ProviderLoginAttempt, error) {
	var attempt model.ProviderLoginAttempt
	err := r.db.GetContext(ctx, &attempt, `
		INSERT INTO provider_login_attempts (id, state, provider, expires_at)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING *
	`, params.State, params.Provider, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *providerStateRepo) Consume(ctx context.Context, state string) (*model.ProviderLoginAttempt, error) {
	var attempt model.ProviderLoginAttempt
	err := r.db.GetContext(ctx, &attempt, `
		DELETE FROM provider_login_attempts
		WHERE state = $1
		RETURNING *
	`, state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *providerStateRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM provider_login_attempts WHERE expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
