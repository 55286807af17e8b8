package account

import (
	"context"

	"github.com/google/uuid"
	"github.com/skybi/report-server/internal/bitflag"
)

// Repository defines the account repository API
type Repository interface {
	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByRawToken retrieves an account by the raw bearer token.
	// Returns (nil, nil) if no account with that token exists.
	GetByRawToken(ctx context.Context, token string) (*Account, error)

	// Create creates a new account and returns it together with the raw bearer token.
	// The token itself is only stored in hashed form.
	Create(ctx context.Context, create *Create) (*Account, string, error)

	// AddManyUsage adds the given usage deltas to the persisted usage counters of multiple accounts
	AddManyUsage(ctx context.Context, deltas map[uuid.UUID]int64) error

	// Delete deletes an account by its ID
	Delete(ctx context.Context, id uuid.UUID) error
}

// Create is used to create a new account
type Create struct {
	Name         string
	Plan         string
	Limit        int64
	Capabilities bitflag.Container
}
