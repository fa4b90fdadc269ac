package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"raffler/domain/entities"
	"raffler/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// AccountRepository implements the holding account ledger
type AccountRepository struct {
	q Queryable
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(q Queryable) interfaces.AccountRepository {
	return &AccountRepository{q: q}
}

// Get returns an account, or nil if it was never funded
func (r *AccountRepository) Get(ctx context.Context, address common.Address) (*entities.Account, error) {
	query := `
		SELECT address, balance::text, frozen, created_at, updated_at
		FROM accounts
		WHERE address = $1
	`

	var (
		account entities.Account
		raw     []byte
		balance string
	)
	err := r.q.QueryRow(ctx, query, address.Bytes()).Scan(
		&raw,
		&balance,
		&account.Frozen,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address.Hex(), err)
	}

	if account.Balance, err = parseWei(balance); err != nil {
		return nil, err
	}
	account.Address = common.BytesToAddress(raw)
	return &account, nil
}

// Credit adds to an account, creating it when missing. Frozen accounts reject credits.
func (r *AccountRepository) Credit(ctx context.Context, address common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return entities.ErrInvalidAmount
	}

	query := `
		INSERT INTO accounts (address, balance)
		VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance,
		    updated_at = NOW()
		WHERE NOT accounts.frozen
		RETURNING balance::text
	`

	var balance string
	err := r.q.QueryRow(ctx, query, address.Bytes(), amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.ErrAccountFrozen
	}
	if err != nil {
		return fmt.Errorf("failed to credit account %s: %w", address.Hex(), err)
	}

	return nil
}

// Debit deducts from an account, failing with ErrInsufficientBalance
func (r *AccountRepository) Debit(ctx context.Context, address common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return entities.ErrInvalidAmount
	}

	query := `
		UPDATE accounts
		SET balance = balance - $2::numeric,
		    updated_at = NOW()
		WHERE address = $1 AND balance >= $2::numeric
		RETURNING balance::text
	`

	var balance string
	err := r.q.QueryRow(ctx, query, address.Bytes(), amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.ErrInsufficientBalance
	}
	if err != nil {
		return fmt.Errorf("failed to debit account %s: %w", address.Hex(), err)
	}

	return nil
}

// SetFrozen freezes or unfreezes an account, creating it when missing
func (r *AccountRepository) SetFrozen(ctx context.Context, address common.Address, frozen bool) error {
	query := `
		INSERT INTO accounts (address, frozen)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE
		SET frozen = EXCLUDED.frozen,
		    updated_at = NOW()
	`

	if _, err := r.q.Exec(ctx, query, address.Bytes(), frozen); err != nil {
		return fmt.Errorf("failed to set frozen flag on account %s: %w", address.Hex(), err)
	}
	return nil
}
