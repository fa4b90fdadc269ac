package entities

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// RaffleState is the round state. Values match the contract enum ordering.
type RaffleState int

const (
	RaffleStateOpen        RaffleState = 0
	RaffleStateCalculating RaffleState = 1
)

// String returns the state name
func (s RaffleState) String() string {
	switch s {
	case RaffleStateOpen:
		return "OPEN"
	case RaffleStateCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// NumWords is the number of random words requested per round
const NumWords = 1

// Raffle is a single raffle and the state of its current round.
// EntranceFee, IntervalSeconds and the oracle parameters are fixed at creation.
type Raffle struct {
	ID              int64       `db:"id"`
	Name            string      `db:"name"`
	EntranceFee     *big.Int    `db:"entrance_fee"`     // wei
	IntervalSeconds int64       `db:"interval_seconds"` // minimum round length
	State           RaffleState `db:"state"`
	RoundNumber     int64       `db:"round_number"` // advances on every payout, scopes players
	LastTimestamp   time.Time   `db:"last_timestamp"`
	Pot             *big.Int    `db:"pot"` // wei held for the current round
	PlayerCount     int64       `db:"player_count"`

	// Pending randomness request. Non-nil exactly while CALCULATING.
	PendingRequestID *int64     `db:"pending_request_id"`
	RequestedAt      *time.Time `db:"requested_at"`

	RecentWinner *common.Address `db:"recent_winner"`

	// Oracle integration parameters
	GasLane              common.Hash `db:"gas_lane"`
	SubscriptionID       uint64      `db:"subscription_id"`
	CallbackGasLimit     uint32      `db:"callback_gas_limit"`
	RequestConfirmations uint16      `db:"request_confirmations"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Interval returns the configured round interval
func (r *Raffle) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// IsOpen returns true if the raffle accepts entries
func (r *Raffle) IsOpen() bool {
	return r.State == RaffleStateOpen
}

// HasPendingRequest returns true if a randomness request is outstanding
func (r *Raffle) HasPendingRequest() bool {
	return r.PendingRequestID != nil
}

// UpkeepCheck is the result of evaluating whether a round may be closed.
// The individual conditions are kept for diagnostics.
type UpkeepCheck struct {
	UpkeepNeeded bool
	PerformData  []byte
	IsOpen       bool
	TimePassed   bool
	HasBalance   bool
	HasPlayers   bool
}

// CheckUpkeep evaluates the upkeep predicate at the given moment.
// Time arithmetic is on whole unix seconds so the result is reproducible off-chain.
func (r *Raffle) CheckUpkeep(now time.Time) UpkeepCheck {
	check := UpkeepCheck{
		PerformData: []byte{},
		IsOpen:      r.IsOpen(),
		TimePassed:  now.Unix()-r.LastTimestamp.Unix() >= r.IntervalSeconds,
		HasBalance:  r.Pot != nil && r.Pot.Sign() > 0,
		HasPlayers:  r.PlayerCount > 0,
	}
	check.UpkeepNeeded = check.IsOpen && check.TimePassed && check.HasBalance && check.HasPlayers
	return check
}

// RecordEntry counts a paid entry into the current round. The pot value is
// replaced rather than mutated, so earlier copies keep their amount.
func (r *Raffle) RecordEntry(payment *big.Int) {
	pot := new(big.Int)
	if r.Pot != nil {
		pot.Set(r.Pot)
	}
	r.Pot = pot.Add(pot, payment)
	r.PlayerCount++
}

// StartCalculating locks the round against new entries and records the pending request
func (r *Raffle) StartCalculating(requestID int64, at time.Time) {
	r.State = RaffleStateCalculating
	r.PendingRequestID = &requestID
	r.RequestedAt = &at
}

// CompleteRound resets the raffle for a new round after the winner was paid
func (r *Raffle) CompleteRound(winner common.Address, at time.Time) {
	r.RecentWinner = &winner
	r.Pot = new(big.Int)
	r.PlayerCount = 0
	r.RoundNumber++
	r.State = RaffleStateOpen
	r.LastTimestamp = at
	r.PendingRequestID = nil
	r.RequestedAt = nil
}

// WinnerIndex maps a random word onto a player position in [0, playerCount)
func (r *Raffle) WinnerIndex(randomWord *big.Int) (int64, error) {
	if r.PlayerCount <= 0 {
		return 0, fmt.Errorf("raffle %d has no players", r.ID)
	}
	if randomWord == nil || randomWord.Sign() < 0 {
		return 0, fmt.Errorf("random word must be a non-negative integer")
	}
	idx := new(big.Int).Mod(randomWord, big.NewInt(r.PlayerCount))
	return idx.Int64(), nil
}

// StuckFor returns how long the raffle has been waiting on the oracle
func (r *Raffle) StuckFor(now time.Time) time.Duration {
	if r.State != RaffleStateCalculating || r.RequestedAt == nil {
		return 0
	}
	return now.Sub(*r.RequestedAt)
}

// RaffleParams holds the construction parameters of a raffle
type RaffleParams struct {
	Name                 string
	EntranceFee          *big.Int
	Interval             time.Duration
	GasLane              common.Hash
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	RequestConfirmations uint16
}

// Validate checks the construction parameters
func (p RaffleParams) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRaffleConfig)
	}
	if p.EntranceFee == nil || p.EntranceFee.Sign() <= 0 {
		return fmt.Errorf("%w: entrance fee must be positive", ErrInvalidRaffleConfig)
	}
	if p.Interval < time.Second {
		return fmt.Errorf("%w: interval must be at least one second", ErrInvalidRaffleConfig)
	}
	if p.CallbackGasLimit == 0 {
		return fmt.Errorf("%w: callback gas limit must be positive", ErrInvalidRaffleConfig)
	}
	return nil
}

// NewRaffle builds an open raffle from validated parameters
func NewRaffle(p RaffleParams, now time.Time) *Raffle {
	return &Raffle{
		Name:                 p.Name,
		EntranceFee:          new(big.Int).Set(p.EntranceFee),
		IntervalSeconds:      int64(p.Interval / time.Second),
		State:                RaffleStateOpen,
		LastTimestamp:        now,
		Pot:                  new(big.Int),
		GasLane:              p.GasLane,
		SubscriptionID:       p.SubscriptionID,
		CallbackGasLimit:     p.CallbackGasLimit,
		RequestConfirmations: p.RequestConfirmations,
	}
}

// FormatWei renders a wei amount as ETH with up to 18 decimals
func FormatWei(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(params.Ether))
	return f.Text('f', -1) + " ETH"
}
