package interfaces

import (
	"context"
	"math/big"
	"time"

	"raffler/domain/entities"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleService defines the interface for raffle round operations
type RaffleService interface {
	// CreateRaffle validates the parameters and stores a new open raffle
	CreateRaffle(ctx context.Context, params entities.RaffleParams) (*entities.Raffle, error)

	// EnsureRaffle returns the raffle with the given name, creating it when missing
	EnsureRaffle(ctx context.Context, params entities.RaffleParams) (*entities.Raffle, error)

	// GetRaffle returns a raffle or ErrRaffleNotFound
	GetRaffle(ctx context.Context, raffleID int64) (*entities.Raffle, error)

	// ListRaffles returns all raffles
	ListRaffles(ctx context.Context) ([]*entities.Raffle, error)

	// Enter pays into the current round on behalf of player
	Enter(ctx context.Context, raffleID int64, player common.Address, payment *big.Int) (*entities.RaffleEntry, error)

	// GetPlayer returns the player at a position of the current round
	GetPlayer(ctx context.Context, raffleID, index int64) (common.Address, error)

	// GetNumberOfPlayers returns how many entries the current round has
	GetNumberOfPlayers(ctx context.Context, raffleID int64) (int64, error)

	// ListPlayers returns the players of the current round in entry order
	ListPlayers(ctx context.Context, raffleID int64) ([]common.Address, error)

	// GetRecentWinner returns the winner of the last completed round, if any
	GetRecentWinner(ctx context.Context, raffleID int64) (*common.Address, error)

	// ListWinners returns the payout history of a raffle, newest first
	ListWinners(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error)

	// CheckUpkeep evaluates whether the round may be closed now. It never changes state.
	CheckUpkeep(ctx context.Context, raffleID int64) (entities.UpkeepCheck, error)

	// PerformUpkeep closes the round and requests randomness, returning the request id
	PerformUpkeep(ctx context.Context, raffleID int64) (int64, error)

	// FulfillRandomWords completes the round waiting on requestID
	FulfillRandomWords(ctx context.Context, requestID int64, randomWords []*big.Int) (*entities.RaffleWinner, error)
}

// AccountService defines the interface for holding account operations
type AccountService interface {
	// Fund credits an account, creating it when missing
	Fund(ctx context.Context, address common.Address, amount *big.Int) (*entities.Account, error)

	// GetAccount returns an account, or an empty unfunded account
	GetAccount(ctx context.Context, address common.Address) (*entities.Account, error)

	// SetFrozen freezes or unfreezes an account
	SetFrozen(ctx context.Context, address common.Address, frozen bool) error
}

// RandomnessCoordinator accepts randomness requests and later calls back
// with the random words. Returned request ids are always positive.
type RandomnessCoordinator interface {
	RequestRandomWords(ctx context.Context, req entities.RandomnessRequest) (int64, error)
}

// Clock supplies the current time to the state machine
type Clock func() time.Time
