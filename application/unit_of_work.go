package application

import (
	"context"

	"raffler/domain/interfaces"
)

// UnitOfWork defines the interface for transactional repository operations.
// Events published through EventBus are delivered only after Commit.
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Repository getters
	RaffleRepository() interfaces.RaffleRepository
	RaffleEntryRepository() interfaces.RaffleEntryRepository
	RaffleWinnerRepository() interfaces.RaffleWinnerRepository
	AccountRepository() interfaces.AccountRepository
	EventBus() interfaces.EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}
