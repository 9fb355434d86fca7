package repository

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/pairlab/pairing-server-go/internal/errors"
	"github.com/pairlab/pairing-server-go/internal/model"
)

// InMemoryPairingRepository is a mutex-guarded PairingRepository for
// single-node deployments and tests. The per-store lock makes every
// compare-and-swap atomic with respect to concurrent callers.
type InMemoryPairingRepository struct {
	mu       sync.Mutex
	byID     map[string]*model.PairingRequest
	activeID map[string]string // code -> request id, active requests only

	// Now can be overridden in tests.
	Now func() time.Time
}

func NewInMemoryPairingRepository() *InMemoryPairingRepository {
	return &InMemoryPairingRepository{
		byID:     make(map[string]*model.PairingRequest),
		activeID: make(map[string]string),
		Now:      time.Now,
	}
}

func (r *InMemoryPairingRepository) Create(ctx context.Context, params model.CreatePairingRequestParams) (*model.PairingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activeID[params.Code]; exists {
		return nil, apperrors.CodeCollision()
	}

	now := r.Now()
	req := &model.PairingRequest{
		ID:        params.ID,
		Code:      params.Code,
		State:     model.PairingStatePending,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.byID[req.ID] = req
	r.activeID[req.Code] = req.ID

	return copyRequest(req), nil
}

func (r *InMemoryPairingRepository) FindByID(ctx context.Context, id string) (*model.PairingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.byID[id]
	if !exists {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (r *InMemoryPairingRepository) FindPendingByCode(ctx context.Context, code string) (*model.PairingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.activeID[code]
	if !exists {
		return nil, nil
	}
	req := r.byID[id]
	if req.State != model.PairingStatePending {
		return nil, nil
	}
	return copyRequest(req), nil
}

func (r *InMemoryPairingRepository) CompareAndSwapState(ctx context.Context, id string, t model.StateTransition) (*model.PairingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.byID[id]
	if !exists {
		return nil, apperrors.NotFound("Pairing request")
	}

	now := r.Now()
	if req.State == model.PairingStateExpired || (req.State.Active() && !req.ExpiresAt.After(now)) {
		return nil, apperrors.Expired("Pairing request")
	}
	if req.State != t.From {
		return nil, apperrors.InvalidTransition(
			"Pairing request is in state " + string(req.State) + ", expected " + string(t.From))
	}

	req.State = t.To
	if t.ApprovedBy != nil {
		req.ApprovedBy = t.ApprovedBy
	}
	req.UpdatedAt = now

	if !req.State.Active() {
		delete(r.activeID, req.Code)
	}

	return copyRequest(req), nil
}

func (r *InMemoryPairingRepository) StoreIssuedToken(ctx context.Context, id, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.byID[id]
	if !exists || req.State != model.PairingStateFinished || req.IssuedToken != nil {
		return apperrors.AlreadyConsumed()
	}

	req.IssuedToken = &token
	req.UpdatedAt = r.Now()
	return nil
}

func (r *InMemoryPairingRepository) MarkExpiredByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, exists := r.byID[id]
	if !exists {
		return nil
	}
	r.expireLocked(req)
	return nil
}

func (r *InMemoryPairingRepository) MarkExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, req := range r.byID {
		if r.expireLocked(req) {
			count++
		}
	}
	return count, nil
}

func (r *InMemoryPairingRepository) expireLocked(req *model.PairingRequest) bool {
	now := r.Now()
	if !req.State.Active() || req.ExpiresAt.After(now) {
		return false
	}
	req.State = model.PairingStateExpired
	req.UpdatedAt = now
	delete(r.activeID, req.Code)
	return true
}

func (r *InMemoryPairingRepository) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.Now().Add(-retention)
	var count int64
	for id, req := range r.byID {
		if req.State.Terminal() && req.UpdatedAt.Before(cutoff) {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

func copyRequest(req *model.PairingRequest) *model.PairingRequest {
	c := *req
	if req.ApprovedBy != nil {
		v := *req.ApprovedBy
		c.ApprovedBy = &v
	}
	if req.IssuedToken != nil {
		v := *req.IssuedToken
		c.IssuedToken = &v
	}
	return &c
}
