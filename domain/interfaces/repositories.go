package interfaces

import (
	"context"
	"math/big"

	"raffler/domain/entities"
	"raffler/domain/events"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleRepository defines the interface for raffle data access.
// Getters return (nil, nil) when no row matches.
type RaffleRepository interface {
	// Create inserts a new raffle and fills in its ID and timestamps
	Create(ctx context.Context, raffle *entities.Raffle) error

	// GetByID retrieves a raffle by its ID
	GetByID(ctx context.Context, id int64) (*entities.Raffle, error)

	// GetByIDForUpdate retrieves a raffle by ID and locks it until the transaction ends
	GetByIDForUpdate(ctx context.Context, id int64) (*entities.Raffle, error)

	// GetByPendingRequestForUpdate locks the raffle waiting on the given randomness request
	GetByPendingRequestForUpdate(ctx context.Context, requestID int64) (*entities.Raffle, error)

	// GetByName retrieves a raffle by its unique name
	GetByName(ctx context.Context, name string) (*entities.Raffle, error)

	// Update persists the mutable round fields of a raffle
	Update(ctx context.Context, raffle *entities.Raffle) error

	// List returns all raffles ordered by ID
	List(ctx context.Context) ([]*entities.Raffle, error)

	// ListByState returns raffles in the given state
	ListByState(ctx context.Context, state entities.RaffleState) ([]*entities.Raffle, error)
}

// RaffleEntryRepository defines the interface for round entry data access
type RaffleEntryRepository interface {
	// Create records an entry at its position in the round
	Create(ctx context.Context, entry *entities.RaffleEntry) error

	// GetByPosition returns the entry at a position of a round
	GetByPosition(ctx context.Context, raffleID, roundNumber, position int64) (*entities.RaffleEntry, error)

	// ListForRound returns the entries of a round in entry order
	ListForRound(ctx context.Context, raffleID, roundNumber int64) ([]*entities.RaffleEntry, error)
}

// RaffleWinnerRepository defines the interface for winner history
type RaffleWinnerRepository interface {
	// Create records a payout
	Create(ctx context.Context, winner *entities.RaffleWinner) error

	// MaxRequestID returns the highest request id ever fulfilled, or 0
	MaxRequestID(ctx context.Context) (int64, error)

	// ListByRaffle returns the winners of a raffle, newest first
	ListByRaffle(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error)
}

// AccountRepository defines the interface for the holding account ledger
type AccountRepository interface {
	// Get returns an account, or nil if it was never funded
	Get(ctx context.Context, address common.Address) (*entities.Account, error)

	// Credit adds to an account, creating it when missing. Fails for frozen accounts.
	Credit(ctx context.Context, address common.Address, amount *big.Int) error

	// Debit deducts from an account, failing with ErrInsufficientBalance
	Debit(ctx context.Context, address common.Address, amount *big.Int) error

	// SetFrozen freezes or unfreezes an account
	SetFrozen(ctx context.Context, address common.Address, frozen bool) error
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event) error
}
