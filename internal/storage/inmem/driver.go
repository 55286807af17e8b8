package inmem

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/secret"
	"github.com/skybi/report-server/internal/storage"
)

var tokenLength = 48

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"accounts": {
			Name: "accounts",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:         "id",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "ID"},
				},
				"tokenHash": {
					Name:         "tokenHash",
					Unique:       true,
					AllowMissing: false,
					Indexer:      &memdb.StringFieldIndex{Field: "TokenHash"},
				},
			},
		},
	},
}

// record wraps an account with the string fields go-memdb indexes on
type record struct {
	ID        string
	TokenHash string
	Account   *account.Account
}

// Driver represents the in-memory account storage driver built using hashicorp/go-memdb.
// It is meant for development and testing setups that run without a PostgreSQL instance;
// accounts do not survive a restart.
type Driver struct {
	db       *memdb.MemDB
	accounts *AccountRepository
}

var _ storage.Driver = (*Driver)(nil)

// New creates a new empty in-memory storage driver
func New() *Driver {
	return &Driver{}
}

// Initialize initializes the in-memory database and the repository implementations
func (driver *Driver) Initialize(_ context.Context) error {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return err
	}
	driver.db = db
	driver.accounts = &AccountRepository{db: db}
	return nil
}

// Accounts provides the in-memory account repository implementation
func (driver *Driver) Accounts() account.Repository {
	return driver.accounts
}

// Close discards the in-memory database
func (driver *Driver) Close() {
	driver.accounts = nil
	driver.db = nil
}

// AccountRepository implements the account.Repository interface using go-memdb
type AccountRepository struct {
	db *memdb.MemDB
}

var _ account.Repository = (*AccountRepository)(nil)

// GetByID retrieves an account by its ID
func (repo *AccountRepository) GetByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	txn := repo.db.Txn(false)
	obj, err := txn.First("accounts", "id", id.String())
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*record).Account, nil
}

// GetByRawToken retrieves an account by the raw bearer token
func (repo *AccountRepository) GetByRawToken(_ context.Context, token string) (*account.Account, error) {
	hash, err := secret.Hash(token)
	if err != nil {
		return nil, nil
	}

	txn := repo.db.Txn(false)
	obj, err := txn.First("accounts", "tokenHash", hex.EncodeToString(hash[:]))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*record).Account, nil
}

// Create creates a new account and returns it together with the raw bearer token
func (repo *AccountRepository) Create(_ context.Context, create *account.Create) (*account.Account, string, error) {
	id := uuid.New()
	token, tokenHash := secret.MustNew(tokenLength)

	obj := &account.Account{
		ID:           id,
		TokenHash:    tokenHash[:],
		Name:         create.Name,
		Plan:         create.Plan,
		Limit:        create.Limit,
		Capabilities: create.Capabilities,
		Active:       true,
		UsedQuota:    0,
	}

	txn := repo.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert("accounts", &record{
		ID:        id.String(),
		TokenHash: hex.EncodeToString(tokenHash[:]),
		Account:   obj,
	}); err != nil {
		return nil, "", err
	}
	txn.Commit()

	return obj, token, nil
}

// AddManyUsage adds the given usage deltas to the usage counters of multiple accounts
func (repo *AccountRepository) AddManyUsage(_ context.Context, deltas map[uuid.UUID]int64) error {
	txn := repo.db.Txn(true)
	defer txn.Abort()

	for id, delta := range deltas {
		obj, err := txn.First("accounts", "id", id.String())
		if err != nil {
			return err
		}
		if obj == nil {
			continue
		}
		old := obj.(*record)

		// Records are replaced rather than mutated in place; readers keep their snapshot
		cpy := *old.Account
		cpy.UsedQuota += delta
		if err := txn.Insert("accounts", &record{
			ID:        old.ID,
			TokenHash: old.TokenHash,
			Account:   &cpy,
		}); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// Delete deletes an account by its ID
func (repo *AccountRepository) Delete(_ context.Context, id uuid.UUID) error {
	txn := repo.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll("accounts", "id", id.String()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}
