package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/pairlab/pairing-server-go/internal/errors"
	"github.com/pairlab/pairing-server-go/internal/model"
)

// PairingRepository is the system of record for the pairing state
// machine. CompareAndSwapState is the sole transition primitive; no
// caller mutates record fields directly.
type PairingRepository interface {
	// Create inserts a new pending request. Fails with a CODE_COLLISION
	// AppError if an active (pending or approved) request already holds
	// the code.
	Create(ctx context.Context, params model.CreatePairingRequestParams) (*model.PairingRequest, error)

	// FindByID returns nil, nil when no request exists with the id.
	FindByID(ctx context.Context, id string) (*model.PairingRequest, error)

	// FindPendingByCode matches pending requests only, regardless of
	// expiry; the caller decides whether an expired match is reported as
	// EXPIRED. Approved and terminal requests never match, so a second
	// device cannot race the claim.
	FindPendingByCode(ctx context.Context, code string) (*model.PairingRequest, error)

	// CompareAndSwapState atomically applies t if the current state
	// equals t.From and the request is unexpired. Fails with NOT_FOUND,
	// EXPIRED or INVALID_TRANSITION.
	CompareAndSwapState(ctx context.Context, id string, t model.StateTransition) (*model.PairingRequest, error)

	// StoreIssuedToken records the token minted for a finished request.
	// Guarded so the token is written at most once.
	StoreIssuedToken(ctx context.Context, id, token string) error

	// MarkExpiredByID lazily expires a single overdue request.
	MarkExpiredByID(ctx context.Context, id string) error

	// MarkExpired transitions every overdue non-terminal request.
	MarkExpired(ctx context.Context) (int64, error)

	// PurgeTerminal deletes terminal requests untouched for longer than
	// the retention window.
	PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error)
}

const pqUniqueViolation = "23505"

// Backing table:
//
//	CREATE TABLE pairing_requests (
//	    id           TEXT PRIMARY KEY,
//	    code         TEXT NOT NULL,
//	    state        TEXT NOT NULL DEFAULT 'pending',
//	    approved_by  TEXT,
//	    issued_token TEXT,
//	    expires_at   TIMESTAMPTZ NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE UNIQUE INDEX pairing_requests_active_code
//	    ON pairing_requests (code) WHERE state IN ('pending', 'approved');
//
// The partial unique index enforces the active-code uniqueness
// invariant; the conditional UPDATE in CompareAndSwapState enforces the
// transition and expiry invariants.
type pairingRepo struct {
	db *sqlx.DB
}

func NewPairingRepository(db *sqlx.DB) PairingRepository {
	return &pairingRepo{db: db}
}

func (r *pairingRepo) Create(ctx context.Context, params model.CreatePairingRequestParams) (*model.PairingRequest, error) {
	var req model.PairingRequest
	err := r.db.GetContext(ctx, &req, `
		INSERT INTO pairing_requests (id, code, state, expires_at)
		VALUES ($1, $2, 'pending', $3)
		RETURNING *
	`, params.ID, params.Code, params.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return nil, apperrors.CodeCollision().WithCause(err)
		}
		return nil, err
	}
	return &req, nil
}

func (r *pairingRepo) FindByID(ctx context.Context, id string) (*model.PairingRequest, error) {
	var req model.PairingRequest
	err := r.db.GetContext(ctx, &req, `
		SELECT * FROM pairing_requests WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *pairingRepo) FindPendingByCode(ctx context.Context, code string) (*model.PairingRequest, error) {
	var req model.PairingRequest
	err := r.db.GetContext(ctx, &req, `
		SELECT * FROM pairing_requests
		WHERE code = $1 AND state = 'pending'
	`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *pairingRepo) CompareAndSwapState(ctx context.Context, id string, t model.StateTransition) (*model.PairingRequest, error) {
	var req model.PairingRequest
	err := r.db.GetContext(ctx, &req, `
		UPDATE pairing_requests SET
			state = $3,
			approved_by = COALESCE($4, approved_by),
			updated_at = NOW()
		WHERE id = $1 AND state = $2 AND expires_at > NOW()
		RETURNING *
	`, id, t.From, t.To, t.ApprovedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.classifySwapFailure(ctx, id, t)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// classifySwapFailure distinguishes why a conditional update matched no
// row. A concurrent transition between the UPDATE and the re-read can
// only make the report more terminal, never less, so this is safe.
func (r *pairingRepo) classifySwapFailure(ctx context.Context, id string, t model.StateTransition) error {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return apperrors.NotFound("Pairing request")
	}
	if current.State == model.PairingStateExpired || (current.State.Active() && !current.ExpiresAt.After(time.Now())) {
		return apperrors.Expired("Pairing request")
	}
	return apperrors.InvalidTransition(
		"Pairing request is in state " + string(current.State) + ", expected " + string(t.From))
}

func (r *pairingRepo) StoreIssuedToken(ctx context.Context, id, token string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_requests SET
			issued_token = $2,
			updated_at = NOW()
		WHERE id = $1 AND state = 'finished' AND issued_token IS NULL
	`, id, token)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.AlreadyConsumed()
	}
	return nil
}

func (r *pairingRepo) MarkExpiredByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_requests SET
			state = 'expired',
			updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'approved') AND expires_at < NOW()
	`, id)
	return err
}

func (r *pairingRepo) MarkExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_requests SET
			state = 'expired',
			updated_at = NOW()
		WHERE state IN ('pending', 'approved') AND expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *pairingRepo) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_requests
		WHERE state IN ('finished', 'expired')
		AND updated_at < NOW() - ($1 * interval '1 second')
	`, int64(retention.Seconds()))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
