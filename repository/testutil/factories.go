package testutil

import (
	"math/big"
	"time"

	"raffler/domain/entities"

	"github.com/ethereum/go-ethereum/common"
)

// TestGasLane is the sepolia 30 gwei key hash
var TestGasLane = common.HexToHash("0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c")

// CreateTestRaffle creates an open raffle with a 0.01 ETH fee and a 30s interval
func CreateTestRaffle(name string) *entities.Raffle {
	return entities.NewRaffle(entities.RaffleParams{
		Name:                 name,
		EntranceFee:          big.NewInt(10_000_000_000_000_000),
		Interval:             30 * time.Second,
		GasLane:              TestGasLane,
		SubscriptionID:       1,
		CallbackGasLimit:     500000,
		RequestConfirmations: 3,
	}, time.Now().UTC().Truncate(time.Microsecond))
}

// CreateTestEntry creates an entry for the given round position
func CreateTestEntry(raffle *entities.Raffle, position int64, player common.Address) *entities.RaffleEntry {
	return &entities.RaffleEntry{
		RaffleID:    raffle.ID,
		RoundNumber: raffle.RoundNumber,
		Position:    position,
		Player:      player,
		Payment:     new(big.Int).Set(raffle.EntranceFee),
		EnteredAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

// TestAddress derives a deterministic address from a small number
func TestAddress(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}
