package repository

import (
	"context"
	"errors"
	"fmt"

	"raffler/domain/entities"
	"raffler/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

const raffleColumns = `
	id, name, entrance_fee::text, interval_seconds, state, round_number, last_timestamp,
	pot::text, player_count, pending_request_id, requested_at, recent_winner,
	gas_lane, subscription_id, callback_gas_limit, request_confirmations,
	created_at, updated_at`

// RaffleRepository implements raffle data access
type RaffleRepository struct {
	q Queryable
}

// NewRaffleRepository creates a new raffle repository over a pool or transaction
func NewRaffleRepository(q Queryable) interfaces.RaffleRepository {
	return &RaffleRepository{q: q}
}

// Create inserts a new raffle
func (r *RaffleRepository) Create(ctx context.Context, raffle *entities.Raffle) error {
	query := `
		INSERT INTO raffles (
			name, entrance_fee, interval_seconds, state, round_number, last_timestamp,
			pot, player_count, gas_lane, subscription_id, callback_gas_limit, request_confirmations
		)
		VALUES ($1, $2::numeric, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		raffle.Name,
		weiParam(raffle.EntranceFee),
		raffle.IntervalSeconds,
		int16(raffle.State),
		raffle.RoundNumber,
		raffle.LastTimestamp,
		weiParam(raffle.Pot),
		raffle.PlayerCount,
		raffle.GasLane.Bytes(),
		int64(raffle.SubscriptionID),
		int64(raffle.CallbackGasLimit),
		int32(raffle.RequestConfirmations),
	).Scan(&raffle.ID, &raffle.CreatedAt, &raffle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create raffle: %w", err)
	}

	return nil
}

// GetByID retrieves a raffle by its ID
func (r *RaffleRepository) GetByID(ctx context.Context, id int64) (*entities.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles WHERE id = $1`

	raffle, err := scanRaffle(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle by ID %d: %w", id, err)
	}
	return raffle, nil
}

// GetByIDForUpdate retrieves a raffle by ID with a row lock
func (r *RaffleRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles WHERE id = $1 FOR UPDATE`

	raffle, err := scanRaffle(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle for update by ID %d: %w", id, err)
	}
	return raffle, nil
}

// GetByPendingRequestForUpdate locks the raffle waiting on a randomness request
func (r *RaffleRepository) GetByPendingRequestForUpdate(ctx context.Context, requestID int64) (*entities.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles WHERE pending_request_id = $1 FOR UPDATE`

	raffle, err := scanRaffle(r.q.QueryRow(ctx, query, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle for request %d: %w", requestID, err)
	}
	return raffle, nil
}

// GetByName retrieves a raffle by its unique name
func (r *RaffleRepository) GetByName(ctx context.Context, name string) (*entities.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles WHERE name = $1`

	raffle, err := scanRaffle(r.q.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle by name %q: %w", name, err)
	}
	return raffle, nil
}

// Update persists the round fields of a raffle. Construction parameters are immutable.
func (r *RaffleRepository) Update(ctx context.Context, raffle *entities.Raffle) error {
	query := `
		UPDATE raffles
		SET state = $2,
		    round_number = $3,
		    last_timestamp = $4,
		    pot = $5::numeric,
		    player_count = $6,
		    pending_request_id = $7,
		    requested_at = $8,
		    recent_winner = $9,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	var recentWinner []byte
	if raffle.RecentWinner != nil {
		recentWinner = raffle.RecentWinner.Bytes()
	}

	err := r.q.QueryRow(ctx, query,
		raffle.ID,
		int16(raffle.State),
		raffle.RoundNumber,
		raffle.LastTimestamp,
		weiParam(raffle.Pot),
		raffle.PlayerCount,
		raffle.PendingRequestID,
		raffle.RequestedAt,
		recentWinner,
	).Scan(&raffle.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("raffle %d not found", raffle.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update raffle: %w", err)
	}

	return nil
}

// List returns all raffles ordered by ID
func (r *RaffleRepository) List(ctx context.Context) ([]*entities.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles ORDER BY id`
	return r.list(ctx, query)
}

// ListByState returns raffles in the given state ordered by ID
func (r *RaffleRepository) ListByState(ctx context.Context, state entities.RaffleState) ([]*entities.Raffle, error) {
	query := `SELECT ` + raffleColumns + ` FROM raffles WHERE state = $1 ORDER BY id`
	return r.list(ctx, query, int16(state))
}

func (r *RaffleRepository) list(ctx context.Context, query string, args ...any) ([]*entities.Raffle, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raffles: %w", err)
	}
	defer rows.Close()

	var raffles []*entities.Raffle
	for rows.Next() {
		raffle, err := scanRaffle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raffle: %w", err)
		}
		raffles = append(raffles, raffle)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raffles: %w", err)
	}

	return raffles, nil
}

func scanRaffle(row rowScanner) (*entities.Raffle, error) {
	var (
		raffle               entities.Raffle
		state                int16
		entranceFee          string
		pot                  string
		recentWinner         []byte
		gasLane              []byte
		subscriptionID       int64
		callbackGasLimit     int64
		requestConfirmations int32
	)

	err := row.Scan(
		&raffle.ID,
		&raffle.Name,
		&entranceFee,
		&raffle.IntervalSeconds,
		&state,
		&raffle.RoundNumber,
		&raffle.LastTimestamp,
		&pot,
		&raffle.PlayerCount,
		&raffle.PendingRequestID,
		&raffle.RequestedAt,
		&recentWinner,
		&gasLane,
		&subscriptionID,
		&callbackGasLimit,
		&requestConfirmations,
		&raffle.CreatedAt,
		&raffle.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if raffle.EntranceFee, err = parseWei(entranceFee); err != nil {
		return nil, err
	}
	if raffle.Pot, err = parseWei(pot); err != nil {
		return nil, err
	}
	raffle.State = entities.RaffleState(state)
	raffle.GasLane = common.BytesToHash(gasLane)
	raffle.SubscriptionID = uint64(subscriptionID)
	raffle.CallbackGasLimit = uint32(callbackGasLimit)
	raffle.RequestConfirmations = uint16(requestConfirmations)
	if recentWinner != nil {
		winner := common.BytesToAddress(recentWinner)
		raffle.RecentWinner = &winner
	}

	return &raffle, nil
}
