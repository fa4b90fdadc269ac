package httpapi

import (
	"math/big"
	"time"

	"raffler/domain/entities"
)

type errorResponse struct {
	Error string `json:"error"`
}

type upkeepNotNeededResponse struct {
	Error      string   `json:"error"`
	Balance    *big.Int `json:"balance"`
	NumPlayers int64    `json:"num_players"`
	State      int      `json:"raffle_state"`
}

type raffleResponse struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	EntranceFee      *big.Int  `json:"entrance_fee"`
	IntervalSeconds  int64     `json:"interval_seconds"`
	State            string    `json:"state"`
	Round            int64     `json:"round"`
	Pot              *big.Int  `json:"pot"`
	NumberOfPlayers  int64     `json:"number_of_players"`
	LastTimestamp    time.Time `json:"last_timestamp"`
	RecentWinner     *string   `json:"recent_winner"`
	PendingRequestID *int64    `json:"pending_request_id,omitempty"`
	NumWords         int       `json:"num_words"`
}

func newRaffleResponse(r *entities.Raffle) raffleResponse {
	resp := raffleResponse{
		ID:               r.ID,
		Name:             r.Name,
		EntranceFee:      r.EntranceFee,
		IntervalSeconds:  r.IntervalSeconds,
		State:            r.State.String(),
		Round:            r.RoundNumber,
		Pot:              r.Pot,
		NumberOfPlayers:  r.PlayerCount,
		LastTimestamp:    r.LastTimestamp,
		PendingRequestID: r.PendingRequestID,
		NumWords:         entities.NumWords,
	}
	if r.RecentWinner != nil {
		winner := r.RecentWinner.Hex()
		resp.RecentWinner = &winner
	}
	return resp
}

type playerResponse struct {
	Index  int64  `json:"index"`
	Player string `json:"player"`
}

type winnerResponse struct {
	Round       int64     `json:"round"`
	RequestID   int64     `json:"request_id"`
	RandomWord  string    `json:"random_word"`
	WinnerIndex int64     `json:"winner_index"`
	Winner      string    `json:"winner"`
	Amount      *big.Int  `json:"amount"`
	PlayerCount int64     `json:"player_count"`
	PaidAt      time.Time `json:"paid_at"`
}

func newWinnerResponse(w *entities.RaffleWinner) winnerResponse {
	return winnerResponse{
		Round:       w.RoundNumber,
		RequestID:   w.RequestID,
		RandomWord:  w.RandomWord.String(),
		WinnerIndex: w.WinnerIndex,
		Winner:      w.Winner.Hex(),
		Amount:      w.Amount,
		PlayerCount: w.PlayerCount,
		PaidAt:      w.CreatedAt,
	}
}

type upkeepResponse struct {
	UpkeepNeeded bool   `json:"upkeep_needed"`
	PerformData  string `json:"perform_data"`
	IsOpen       bool   `json:"is_open"`
	TimePassed   bool   `json:"time_passed"`
	HasBalance   bool   `json:"has_balance"`
	HasPlayers   bool   `json:"has_players"`
}

type performUpkeepResponse struct {
	RequestID int64 `json:"request_id"`
}

type playersResponse struct {
	Players []string `json:"players"`
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

type enterRequest struct {
	Player  string   `json:"player"`
	Payment *big.Int `json:"payment"`
}

type entryResponse struct {
	RaffleID int64  `json:"raffle_id"`
	Round    int64  `json:"round"`
	Position int64  `json:"position"`
	Player   string   `json:"player"`
	Payment  *big.Int `json:"payment"`
}

type accountResponse struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
	Frozen  bool     `json:"frozen"`
}
