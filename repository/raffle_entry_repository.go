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

// RaffleEntryRepository implements round entry data access
type RaffleEntryRepository struct {
	q Queryable
}

// NewRaffleEntryRepository creates a new entry repository
func NewRaffleEntryRepository(q Queryable) interfaces.RaffleEntryRepository {
	return &RaffleEntryRepository{q: q}
}

// Create records an entry at its position in the round
func (r *RaffleEntryRepository) Create(ctx context.Context, entry *entities.RaffleEntry) error {
	query := `
		INSERT INTO raffle_entries (raffle_id, round_number, position, player, payment, entered_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		entry.RaffleID,
		entry.RoundNumber,
		entry.Position,
		entry.Player.Bytes(),
		weiParam(entry.Payment),
		entry.EnteredAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create raffle entry: %w", err)
	}

	return nil
}

// GetByPosition returns the entry at a position of a round
func (r *RaffleEntryRepository) GetByPosition(ctx context.Context, raffleID, roundNumber, position int64) (*entities.RaffleEntry, error) {
	query := `
		SELECT id, raffle_id, round_number, position, player, payment::text, entered_at
		FROM raffle_entries
		WHERE raffle_id = $1 AND round_number = $2 AND position = $3
	`

	entry, err := scanEntry(r.q.QueryRow(ctx, query, raffleID, roundNumber, position))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle entry: %w", err)
	}
	return entry, nil
}

// ListForRound returns the entries of a round in entry order
func (r *RaffleEntryRepository) ListForRound(ctx context.Context, raffleID, roundNumber int64) ([]*entities.RaffleEntry, error) {
	query := `
		SELECT id, raffle_id, round_number, position, player, payment::text, entered_at
		FROM raffle_entries
		WHERE raffle_id = $1 AND round_number = $2
		ORDER BY position
	`

	rows, err := r.q.Query(ctx, query, raffleID, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query raffle entries: %w", err)
	}
	defer rows.Close()

	var result []*entities.RaffleEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raffle entry: %w", err)
		}
		result = append(result, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raffle entries: %w", err)
	}

	return result, nil
}

func scanEntry(row rowScanner) (*entities.RaffleEntry, error) {
	var (
		entry   entities.RaffleEntry
		player  []byte
		payment string
	)
	err := row.Scan(
		&entry.ID,
		&entry.RaffleID,
		&entry.RoundNumber,
		&entry.Position,
		&player,
		&payment,
		&entry.EnteredAt,
	)
	if err != nil {
		return nil, err
	}
	if entry.Payment, err = parseWei(payment); err != nil {
		return nil, err
	}
	entry.Player = common.BytesToAddress(player)
	return &entry, nil
}
