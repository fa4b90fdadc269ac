package entities

import (
	"github.com/ethereum/go-ethereum/common"
)

// RandomnessRequest carries the oracle parameters of a randomness request
type RandomnessRequest struct {
	RaffleID             int64
	GasLane              common.Hash
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

// NewRandomnessRequest builds the request a raffle issues when upkeep fires
func NewRandomnessRequest(r *Raffle) RandomnessRequest {
	return RandomnessRequest{
		RaffleID:             r.ID,
		GasLane:              r.GasLane,
		SubscriptionID:       r.SubscriptionID,
		RequestConfirmations: r.RequestConfirmations,
		CallbackGasLimit:     r.CallbackGasLimit,
		NumWords:             NumWords,
	}
}
