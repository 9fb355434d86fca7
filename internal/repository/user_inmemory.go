package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pairlab/pairing-server-go/internal/model"
)

type InMemoryUserRepository struct {
	mu         sync.Mutex
	users      map[string]*model.User
	identities map[string]*model.UserIdentity // provider + "\x00" + providerUserID
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:      make(map[string]*model.User),
		identities: make(map[string]*model.UserIdentity),
	}
}

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

func (r *InMemoryUserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists {
		return nil, nil
	}
	c := *user
	return &c, nil
}

func (r *InMemoryUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Email == email {
			c := *user
			return &c, nil
		}
	}
	return nil, nil
}

func (r *InMemoryUserRepository) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user := &model.User{
		ID:          uuid.New().String(),
		Email:       params.Email,
		DisplayName: params.DisplayName,
		Role:        params.Role,
		CreatedAt:   time.Now(),
	}
	r.users[user.ID] = user

	c := *user
	return &c, nil
}

func (r *InMemoryUserRepository) FindIdentity(ctx context.Context, provider, providerUserID string) (*model.UserIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, exists := r.identities[identityKey(provider, providerUserID)]
	if !exists {
		return nil, nil
	}
	c := *identity
	return &c, nil
}

func (r *InMemoryUserRepository) CreateIdentity(ctx context.Context, params model.CreateUserIdentityParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.identities[identityKey(params.Provider, params.ProviderUserID)] = &model.UserIdentity{
		Provider:       params.Provider,
		ProviderUserID: params.ProviderUserID,
		UserID:         params.UserID,
		CreatedAt:      time.Now(),
	}
	return nil
}
