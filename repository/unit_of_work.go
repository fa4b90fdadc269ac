package repository

import (
	"context"
	"errors"
	"fmt"

	"raffler/application"
	"raffler/database"
	"raffler/domain/events"
	"raffler/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db                     *database.DB
	tx                     pgx.Tx
	ctx                    context.Context
	publisher              events.Publisher
	transactionalPublisher *events.TransactionalBus
	raffleRepo             interfaces.RaffleRepository
	entryRepo              interfaces.RaffleEntryRepository
	winnerRepo             interfaces.RaffleWinnerRepository
	accountRepo            interfaces.AccountRepository
}

type unitOfWorkFactory struct {
	db        *database.DB
	publisher events.Publisher
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory. Committed events are
// handed to publisher, which may be nil.
func NewUnitOfWorkFactory(db *database.DB, publisher events.Publisher) application.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:        db,
		publisher: publisher,
	}
}

// Create returns a new, not yet started, UnitOfWork
func (f *unitOfWorkFactory) Create() application.UnitOfWork {
	return &unitOfWork{
		db:        f.db,
		publisher: f.publisher,
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx
	u.transactionalPublisher = events.NewTransactionalBus(u.publisher)

	u.raffleRepo = NewRaffleRepository(tx)
	u.entryRepo = NewRaffleEntryRepository(tx)
	u.winnerRepo = NewRaffleWinnerRepository(tx)
	u.accountRepo = NewAccountRepository(tx)

	return nil
}

// Commit commits the transaction and flushes pending events
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	u.tx = nil
	if err != nil {
		u.transactionalPublisher.Discard()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.transactionalPublisher.Flush()
	return nil
}

// Rollback rolls back the transaction and discards pending events
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Rollback(u.ctx)
	u.tx = nil
	u.transactionalPublisher.Discard()

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// RaffleRepository returns the raffle repository for this unit of work
func (u *unitOfWork) RaffleRepository() interfaces.RaffleRepository {
	if u.raffleRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.raffleRepo
}

// RaffleEntryRepository returns the entry repository for this unit of work
func (u *unitOfWork) RaffleEntryRepository() interfaces.RaffleEntryRepository {
	if u.entryRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.entryRepo
}

// RaffleWinnerRepository returns the winner repository for this unit of work
func (u *unitOfWork) RaffleWinnerRepository() interfaces.RaffleWinnerRepository {
	if u.winnerRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.winnerRepo
}

// AccountRepository returns the account repository for this unit of work
func (u *unitOfWork) AccountRepository() interfaces.AccountRepository {
	if u.accountRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.accountRepo
}

// EventBus returns the transactional event publisher for this unit of work
func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	if u.transactionalPublisher == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalPublisher
}
