package postgres

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/skybi/report-server/internal/account"
	"github.com/skybi/report-server/internal/secret"
)

var tokenLength = 48

// AccountRepository implements the account.Repository interface using PostgreSQL
type AccountRepository struct {
	db *pgxpool.Pool
}

var _ account.Repository = (*AccountRepository)(nil)

// GetByID retrieves an account by its ID
func (repo *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	row := repo.db.QueryRow(ctx, "select * from accounts where account_id = $1", id)
	obj, err := repo.rowToAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return obj, nil
}

// GetByRawToken retrieves an account by the raw bearer token
func (repo *AccountRepository) GetByRawToken(ctx context.Context, token string) (*account.Account, error) {
	hash, err := secret.Hash(token)
	if err != nil {
		// The raw token is no valid base64 string. This has the same effect as an unknown token.
		return nil, nil
	}

	row := repo.db.QueryRow(ctx, "select * from accounts where token = $1", hash[:])
	obj, err := repo.rowToAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return obj, nil
}

// Create creates a new account and returns it together with the raw bearer token
func (repo *AccountRepository) Create(ctx context.Context, create *account.Create) (*account.Account, string, error) {
	id := uuid.New()
	token, tokenHash := secret.MustNew(tokenLength)

	query := `
		insert into accounts (account_id, token, name, plan, request_limit, capabilities, active, used_quota)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := repo.db.Exec(
		ctx,
		query,
		id,
		tokenHash[:],
		create.Name,
		create.Plan,
		create.Limit,
		create.Capabilities,
		true,
		0,
	)
	if err != nil {
		return nil, "", err
	}

	return &account.Account{
		ID:           id,
		TokenHash:    tokenHash[:],
		Name:         create.Name,
		Plan:         create.Plan,
		Limit:        create.Limit,
		Capabilities: create.Capabilities,
		Active:       true,
		UsedQuota:    0,
	}, token, nil
}

// AddManyUsage adds the given usage deltas to the persisted usage counters of multiple accounts
func (repo *AccountRepository) AddManyUsage(ctx context.Context, deltas map[uuid.UUID]int64) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := repo.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for id, delta := range deltas {
		query := squirrel.Update("accounts").
			Set("used_quota", squirrel.Expr("used_quota + ?", delta)).
			Where(squirrel.Eq{"account_id": id})
		sql, values, err := query.PlaceholderFormat(squirrel.Dollar).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sql, values...); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Delete deletes an account by its ID
func (repo *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := repo.db.Exec(ctx, "delete from accounts where account_id = $1", id)
	return err
}

func (repo *AccountRepository) rowToAccount(row pgx.Row) (*account.Account, error) {
	obj := new(account.Account)
	if err := row.Scan(&obj.ID, &obj.TokenHash, &obj.Name, &obj.Plan, &obj.Limit, &obj.Capabilities, &obj.Active, &obj.UsedQuota); err != nil {
		return nil, err
	}
	return obj, nil
}
