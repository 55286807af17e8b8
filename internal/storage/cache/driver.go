package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/hashmap"
	"github.com/skybi/report-server/internal/storage"
)

// Driver represents a storage driver implementation that wraps another one in order to implement
// in-memory caching of account lookups. Token verification happens on every single request, so
// hitting the database every time would defeat the purpose of the report cache.
type Driver struct {
	underlying storage.Driver
	accounts   *AccountRepository
}

var _ storage.Driver = (*Driver)(nil)

// New returns a new caching storage driver
func New(underlying storage.Driver) *Driver {
	return &Driver{
		underlying: underlying,
	}
}

// Initialize initializes the caching repositories
func (driver *Driver) Initialize(_ context.Context) error {
	accountCache := hashmap.NewExpiring[uuid.UUID, *account.Account](5 * time.Minute)
	accountCache.ScheduleCleanupTask(10 * time.Second)
	hashCache := hashmap.NewExpiring[[64]byte, uuid.UUID](5 * time.Minute)
	hashCache.ScheduleCleanupTask(10 * time.Second)
	driver.accounts = &AccountRepository{
		repo:      driver.underlying.Accounts(),
		cache:     accountCache,
		hashCache: hashCache,
	}
	return nil
}

// Accounts provides the caching account repository implementation
func (driver *Driver) Accounts() account.Repository {
	return driver.accounts
}

// Close closes the caching repositories and disposes their instances
func (driver *Driver) Close() {
	driver.accounts.cache.StopCleanupTask()
	driver.accounts.hashCache.StopCleanupTask()
	driver.accounts = nil
}
