package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairlab/pairing-server-go/internal/model"
)

// InMemoryProviderStateRepository mirrors the Postgres implementation
// for single-node deployments and tests.
type InMemoryProviderStateRepository struct {
	mu       sync.Mutex
	attempts map[string]*model.ProviderLoginAttempt

	// Now can be overridden in tests.
	Now func() time.Time
}

func NewInMemoryProviderStateRepository() *InMemoryProviderStateRepository {
	return &InMemoryProviderStateRepository{
		attempts: make(map[string]*model.ProviderLoginAttempt),
		Now:      time.Now,
	}
}

func (r *InMemoryProviderStateRepository) Create(ctx context.Context, params model.CreateProviderLoginAttemptParams) (*model.ProviderLoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt := &model.ProviderLoginAttempt{
		ID:        uuid.New().String(),
		State:     params.State,
		Provider:  params.Provider,
		ExpiresAt: params.ExpiresAt,
		CreatedAt: r.Now(),
	}
	r.attempts[attempt.State] = attempt

	c := *attempt
	return &c, nil
}

func (r *InMemoryProviderStateRepository) Consume(ctx context.Context, state string) (*model.ProviderLoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, exists := r.attempts[state]
	if !exists {
		return nil, nil
	}
	delete(r.attempts, state)

	c := *attempt
	return &c, nil
}

func (r *InMemoryProviderStateRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	var count int64
	for state, attempt := range r.attempts {
		if attempt.ExpiresAt.Before(now) {
			delete(r.attempts, state)
			count++
		}
	}
	return count, nil
}
