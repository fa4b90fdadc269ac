package entities

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleWinner records the payout of a completed round
type RaffleWinner struct {
	ID          int64          `db:"id"`
	RaffleID    int64          `db:"raffle_id"`
	RoundNumber int64          `db:"round_number"`
	RequestID   int64          `db:"request_id"`
	RandomWord  *big.Int       `db:"random_word"`
	WinnerIndex int64          `db:"winner_index"`
	Winner      common.Address `db:"winner"`
	Amount      *big.Int       `db:"amount"`
	PlayerCount int64          `db:"player_count"`
	CreatedAt   time.Time      `db:"created_at"`
}
