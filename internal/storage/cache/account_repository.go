package cache

import (
	"context"

	"github.com/google/uuid"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/hashmap"
	"github.com/skybi/report-server/internal/secret"
)

// AccountRepository implements the account.Repository interface in order to implement caching
type AccountRepository struct {
	repo      account.Repository
	cache     *hashmap.ExpiringMap[uuid.UUID, *account.Account]
	hashCache *hashmap.ExpiringMap[[64]byte, uuid.UUID]
}

var _ account.Repository = (*AccountRepository)(nil)

// GetByID retrieves an account by its ID
func (repo *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	cached, ok := repo.cache.Lookup(id)
	if ok {
		return cached, nil
	}
	obj, err := repo.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj != nil {
		repo.cache.Set(obj.ID, obj)
	}
	return obj, nil
}

// GetByRawToken retrieves an account by the raw bearer token
func (repo *AccountRepository) GetByRawToken(ctx context.Context, token string) (*account.Account, error) {
	hash, err := secret.Hash(token)
	if err != nil {
		return nil, nil
	}
	id, ok := repo.hashCache.Lookup(hash)
	if ok {
		return repo.GetByID(ctx, id)
	}

	obj, err := repo.repo.GetByRawToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if obj != nil {
		repo.hashCache.Set(hash, obj.ID)
		repo.cache.Set(obj.ID, obj)
	}
	return obj, nil
}

// Create creates a new account and returns it together with the raw bearer token
func (repo *AccountRepository) Create(ctx context.Context, create *account.Create) (*account.Account, string, error) {
	obj, token, err := repo.repo.Create(ctx, create)
	if err != nil {
		return nil, "", err
	}
	repo.cache.Set(obj.ID, obj)
	return obj, token, nil
}

// AddManyUsage adds the given usage deltas to the persisted usage counters of multiple accounts.
// Affected cache entries are invalidated so reads don't serve stale usage for the full lifetime.
func (repo *AccountRepository) AddManyUsage(ctx context.Context, deltas map[uuid.UUID]int64) error {
	if err := repo.repo.AddManyUsage(ctx, deltas); err != nil {
		return err
	}
	for id := range deltas {
		repo.cache.Unset(id)
	}
	return nil
}

// Delete deletes an account by its ID
func (repo *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := repo.repo.Delete(ctx, id); err != nil {
		return err
	}
	repo.cache.Unset(id)
	return nil
}
