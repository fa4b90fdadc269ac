package entities

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Caller-input and precondition errors. None of them change state.
var (
	ErrNotEnoughEthEntered   = errors.New("Raffle_NotEnoughETHEntered")
	ErrNotOpen               = errors.New("Raffle_NotOpen")
	ErrNonexistentRequest    = errors.New("nonexistent request")
	ErrRaffleNotFound        = errors.New("raffle not found")
	ErrPlayerIndexOutOfRange = errors.New("player index out of range")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidRaffleConfig   = errors.New("invalid raffle config")
	ErrNoRandomWords         = errors.New("no random words delivered")
	ErrAccountFrozen         = errors.New("account is frozen")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// UpkeepNotNeededError is returned when performUpkeep is called while the
// upkeep predicate is false. It carries the values the predicate saw.
type UpkeepNotNeededError struct {
	Balance    *big.Int
	NumPlayers int64
	State      RaffleState
}

// Error implements the error interface
func (e *UpkeepNotNeededError) Error() string {
	balance := e.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	return fmt.Sprintf("Raffle_UpkeepNotNeeded(%s, %d, %d)", balance, e.NumPlayers, int(e.State))
}

// TransferFailedError is returned when the winner payout cannot be completed.
// The fulfillment is aborted and may be retried.
type TransferFailedError struct {
	Winner common.Address
	Amount *big.Int
	Err    error
}

// Error implements the error interface
func (e *TransferFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Raffle_TransferFailed: %v wei to %s: %v", e.Amount, e.Winner.Hex(), e.Err)
	}
	return fmt.Sprintf("Raffle_TransferFailed: %v wei to %s", e.Amount, e.Winner.Hex())
}

// Unwrap returns the underlying error
func (e *TransferFailedError) Unwrap() error {
	return e.Err
}
