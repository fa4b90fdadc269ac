package entities

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleEntry is one paid entry in a round. Position is the entry order
// within the round and is what the random word is mapped onto.
type RaffleEntry struct {
	ID          int64          `db:"id"`
	RaffleID    int64          `db:"raffle_id"`
	RoundNumber int64          `db:"round_number"`
	Position    int64          `db:"position"`
	Player      common.Address `db:"player"`
	Payment     *big.Int       `db:"payment"`
	EnteredAt   time.Time      `db:"entered_at"`
}
