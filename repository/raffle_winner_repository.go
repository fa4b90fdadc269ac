package repository

import (
	"context"
	"fmt"
	"math/big"

	"raffler/domain/entities"
	"raffler/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
)

// RaffleWinnerRepository implements winner history data access
type RaffleWinnerRepository struct {
	q Queryable
}

// NewRaffleWinnerRepository creates a new winner repository
func NewRaffleWinnerRepository(q Queryable) interfaces.RaffleWinnerRepository {
	return &RaffleWinnerRepository{q: q}
}

// Create records a payout
func (r *RaffleWinnerRepository) Create(ctx context.Context, winner *entities.RaffleWinner) error {
	if winner.RandomWord == nil {
		return fmt.Errorf("winner record requires a random word")
	}

	query := `
		INSERT INTO raffle_winners (
			raffle_id, round_number, request_id, random_word, winner_index,
			winner, amount::text, player_count, created_at
		)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, $8, $9)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		winner.RaffleID,
		winner.RoundNumber,
		winner.RequestID,
		winner.RandomWord.String(),
		winner.WinnerIndex,
		winner.Winner.Bytes(),
		weiParam(winner.Amount),
		winner.PlayerCount,
		winner.CreatedAt,
	).Scan(&winner.ID)
	if err != nil {
		return fmt.Errorf("failed to create raffle winner: %w", err)
	}

	return nil
}

// MaxRequestID returns the highest fulfilled request id, or 0 when there is none
func (r *RaffleWinnerRepository) MaxRequestID(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(MAX(request_id), 0) FROM raffle_winners`

	var highest int64
	if err := r.q.QueryRow(ctx, query).Scan(&highest); err != nil {
		return 0, fmt.Errorf("failed to get highest request id: %w", err)
	}
	return highest, nil
}

// ListByRaffle returns the winners of a raffle, newest first
func (r *RaffleWinnerRepository) ListByRaffle(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error) {
	query := `
		SELECT id, raffle_id, round_number, request_id, random_word::text, winner_index,
		       winner, amount::text, player_count, created_at
		FROM raffle_winners
		WHERE raffle_id = $1
		ORDER BY round_number DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, raffleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query raffle winners: %w", err)
	}
	defer rows.Close()

	var result []*entities.RaffleWinner
	for rows.Next() {
		winner, err := scanWinner(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raffle winner: %w", err)
		}
		result = append(result, winner)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raffle winners: %w", err)
	}

	return result, nil
}

func scanWinner(row rowScanner) (*entities.RaffleWinner, error) {
	var (
		winner     entities.RaffleWinner
		randomWord string
		amount     string
		address    []byte
	)
	err := row.Scan(
		&winner.ID,
		&winner.RaffleID,
		&winner.RoundNumber,
		&winner.RequestID,
		&randomWord,
		&winner.WinnerIndex,
		&address,
		&amount,
		&winner.PlayerCount,
		&winner.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	word, ok := new(big.Int).SetString(randomWord, 10)
	if !ok {
		return nil, fmt.Errorf("invalid random word %q", randomWord)
	}
	winner.RandomWord = word
	if winner.Amount, err = parseWei(amount); err != nil {
		return nil, err
	}
	winner.Winner = common.BytesToAddress(address)
	return &winner, nil
}
