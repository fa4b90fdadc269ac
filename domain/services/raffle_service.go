package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// raffleService implements the round state machine. It is built per unit of
// work, so every method runs inside the caller's transaction.
type raffleService struct {
	raffleRepo     interfaces.RaffleRepository
	entryRepo      interfaces.RaffleEntryRepository
	winnerRepo     interfaces.RaffleWinnerRepository
	accountRepo    interfaces.AccountRepository
	coordinator    interfaces.RandomnessCoordinator
	eventPublisher interfaces.EventPublisher
	now            interfaces.Clock
}

// NewRaffleService creates a new raffle service. A nil clock uses time.Now.
func NewRaffleService(
	raffleRepo interfaces.RaffleRepository,
	entryRepo interfaces.RaffleEntryRepository,
	winnerRepo interfaces.RaffleWinnerRepository,
	accountRepo interfaces.AccountRepository,
	coordinator interfaces.RandomnessCoordinator,
	eventPublisher interfaces.EventPublisher,
	clock interfaces.Clock,
) interfaces.RaffleService {
	if clock == nil {
		clock = time.Now
	}
	return &raffleService{
		raffleRepo:     raffleRepo,
		entryRepo:      entryRepo,
		winnerRepo:     winnerRepo,
		accountRepo:    accountRepo,
		coordinator:    coordinator,
		eventPublisher: eventPublisher,
		now:            clock,
	}
}

// CreateRaffle validates the parameters and stores a new open raffle
func (s *raffleService) CreateRaffle(ctx context.Context, params entities.RaffleParams) (*entities.Raffle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	raffle := entities.NewRaffle(params, s.now().UTC())
	if err := s.raffleRepo.Create(ctx, raffle); err != nil {
		return nil, fmt.Errorf("failed to create raffle: %w", err)
	}

	log.WithFields(log.Fields{
		"raffleID":    raffle.ID,
		"name":        raffle.Name,
		"entranceFee": raffle.EntranceFee.String(),
		"interval":    raffle.Interval(),
	}).Info("Raffle created")

	return raffle, nil
}

// EnsureRaffle returns the raffle with the given name, creating it when missing.
// An existing raffle keeps its original parameters.
func (s *raffleService) EnsureRaffle(ctx context.Context, params entities.RaffleParams) (*entities.Raffle, error) {
	existing, err := s.raffleRepo.GetByName(ctx, params.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle by name: %w", err)
	}
	if existing != nil {
		if params.EntranceFee == nil || existing.EntranceFee.Cmp(params.EntranceFee) != 0 || existing.Interval() != params.Interval {
			log.WithFields(log.Fields{
				"raffleID":           existing.ID,
				"storedEntranceFee":  entities.FormatWei(existing.EntranceFee),
				"configuredFee":      entities.FormatWei(params.EntranceFee),
				"storedInterval":     existing.Interval(),
				"configuredInterval": params.Interval,
			}).Warn("Configured raffle parameters differ from stored raffle, keeping stored values")
		}
		return existing, nil
	}
	return s.CreateRaffle(ctx, params)
}

// GetRaffle returns a raffle or ErrRaffleNotFound
func (s *raffleService) GetRaffle(ctx context.Context, raffleID int64) (*entities.Raffle, error) {
	raffle, err := s.raffleRepo.GetByID(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle: %w", err)
	}
	if raffle == nil {
		return nil, entities.ErrRaffleNotFound
	}
	return raffle, nil
}

// ListRaffles returns all raffles
func (s *raffleService) ListRaffles(ctx context.Context) ([]*entities.Raffle, error) {
	raffles, err := s.raffleRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list raffles: %w", err)
	}
	return raffles, nil
}

// Enter pays into the current round. The fee is checked before the state,
// so an underpaying caller sees ErrNotEnoughEthEntered even while calculating.
func (s *raffleService) Enter(ctx context.Context, raffleID int64, player common.Address, payment *big.Int) (*entities.RaffleEntry, error) {
	raffle, err := s.raffleRepo.GetByIDForUpdate(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle: %w", err)
	}
	if raffle == nil {
		return nil, entities.ErrRaffleNotFound
	}

	if payment == nil || payment.Cmp(raffle.EntranceFee) < 0 {
		return nil, entities.ErrNotEnoughEthEntered
	}
	if !raffle.IsOpen() {
		return nil, entities.ErrNotOpen
	}
	payment = new(big.Int).Set(payment)

	if err := s.accountRepo.Debit(ctx, player, payment); err != nil {
		return nil, fmt.Errorf("failed to debit entrance payment: %w", err)
	}

	entry := &entities.RaffleEntry{
		RaffleID:    raffle.ID,
		RoundNumber: raffle.RoundNumber,
		Position:    raffle.PlayerCount,
		Player:      player,
		Payment:     payment,
		EnteredAt:   s.now().UTC(),
	}
	if err := s.entryRepo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record entry: %w", err)
	}

	raffle.RecordEntry(payment)
	if err := s.raffleRepo.Update(ctx, raffle); err != nil {
		return nil, fmt.Errorf("failed to update raffle: %w", err)
	}

	if err := s.eventPublisher.Publish(events.RaffleEnterEvent{
		RaffleID:    raffle.ID,
		RoundNumber: raffle.RoundNumber,
		Player:      player,
		Payment:     payment,
		Pot:         raffle.Pot,
		PlayerCount: raffle.PlayerCount,
	}); err != nil {
		return nil, fmt.Errorf("failed to publish raffle enter event: %w", err)
	}

	log.WithFields(log.Fields{
		"raffleID": raffle.ID,
		"round":    raffle.RoundNumber,
		"player":   player.Hex(),
		"position": entry.Position,
		"payment":  payment.String(),
		"pot":      raffle.Pot.String(),
	}).Info("Player entered raffle")

	return entry, nil
}

// GetPlayer returns the player at a position of the current round
func (s *raffleService) GetPlayer(ctx context.Context, raffleID, index int64) (common.Address, error) {
	raffle, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return common.Address{}, err
	}
	if index < 0 || index >= raffle.PlayerCount {
		return common.Address{}, entities.ErrPlayerIndexOutOfRange
	}

	entry, err := s.entryRepo.GetByPosition(ctx, raffle.ID, raffle.RoundNumber, index)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get entry: %w", err)
	}
	if entry == nil {
		return common.Address{}, entities.ErrPlayerIndexOutOfRange
	}
	return entry.Player, nil
}

// GetNumberOfPlayers returns how many entries the current round has
func (s *raffleService) GetNumberOfPlayers(ctx context.Context, raffleID int64) (int64, error) {
	raffle, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return 0, err
	}
	return raffle.PlayerCount, nil
}

// ListPlayers returns the players of the current round in entry order
func (s *raffleService) ListPlayers(ctx context.Context, raffleID int64) ([]common.Address, error) {
	raffle, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	entries, err := s.entryRepo.ListForRound(ctx, raffle.ID, raffle.RoundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	players := make([]common.Address, 0, len(entries))
	for _, entry := range entries {
		players = append(players, entry.Player)
	}
	return players, nil
}

// GetRecentWinner returns the last winner, or nil before the first payout
func (s *raffleService) GetRecentWinner(ctx context.Context, raffleID int64) (*common.Address, error) {
	raffle, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return raffle.RecentWinner, nil
}

// ListWinners returns the payout history of a raffle
func (s *raffleService) ListWinners(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error) {
	if _, err := s.GetRaffle(ctx, raffleID); err != nil {
		return nil, err
	}
	winners, err := s.winnerRepo.ListByRaffle(ctx, raffleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list winners: %w", err)
	}
	return winners, nil
}

// CheckUpkeep evaluates the upkeep predicate without changing state
func (s *raffleService) CheckUpkeep(ctx context.Context, raffleID int64) (entities.UpkeepCheck, error) {
	raffle, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return entities.UpkeepCheck{}, err
	}
	return raffle.CheckUpkeep(s.now()), nil
}

// PerformUpkeep re-validates the predicate under the row lock, then locks the
// round and requests randomness.
func (s *raffleService) PerformUpkeep(ctx context.Context, raffleID int64) (int64, error) {
	raffle, err := s.raffleRepo.GetByIDForUpdate(ctx, raffleID)
	if err != nil {
		return 0, fmt.Errorf("failed to get raffle: %w", err)
	}
	if raffle == nil {
		return 0, entities.ErrRaffleNotFound
	}

	now := s.now().UTC()
	if check := raffle.CheckUpkeep(now); !check.UpkeepNeeded {
		return 0, &entities.UpkeepNotNeededError{
			Balance:    raffle.Pot,
			NumPlayers: raffle.PlayerCount,
			State:      raffle.State,
		}
	}

	requestID, err := s.coordinator.RequestRandomWords(ctx, entities.NewRandomnessRequest(raffle))
	if err != nil {
		return 0, fmt.Errorf("failed to request random words: %w", err)
	}
	if requestID <= 0 {
		return 0, fmt.Errorf("coordinator returned invalid request id %d", requestID)
	}

	raffle.StartCalculating(requestID, now)
	if err := s.raffleRepo.Update(ctx, raffle); err != nil {
		return 0, fmt.Errorf("failed to update raffle: %w", err)
	}

	if err := s.eventPublisher.Publish(events.RequestedRaffleWinnerEvent{
		RaffleID:    raffle.ID,
		RoundNumber: raffle.RoundNumber,
		RequestID:   requestID,
	}); err != nil {
		return 0, fmt.Errorf("failed to publish requested raffle winner event: %w", err)
	}

	log.WithFields(log.Fields{
		"raffleID":  raffle.ID,
		"round":     raffle.RoundNumber,
		"requestID": requestID,
		"players":   raffle.PlayerCount,
		"pot":       raffle.Pot.String(),
	}).Info("Upkeep performed, winner requested")

	return requestID, nil
}

// FulfillRandomWords picks and pays the winner of the round waiting on
// requestID. Any failure leaves the round calculating with the same request.
func (s *raffleService) FulfillRandomWords(ctx context.Context, requestID int64, randomWords []*big.Int) (*entities.RaffleWinner, error) {
	if requestID <= 0 {
		return nil, entities.ErrNonexistentRequest
	}

	raffle, err := s.raffleRepo.GetByPendingRequestForUpdate(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raffle for request: %w", err)
	}
	if raffle == nil || raffle.State != entities.RaffleStateCalculating {
		return nil, entities.ErrNonexistentRequest
	}
	if len(randomWords) == 0 || randomWords[0] == nil {
		return nil, entities.ErrNoRandomWords
	}

	winnerIndex, err := raffle.WinnerIndex(randomWords[0])
	if err != nil {
		return nil, fmt.Errorf("failed to compute winner index: %w", err)
	}

	entry, err := s.entryRepo.GetByPosition(ctx, raffle.ID, raffle.RoundNumber, winnerIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get winning entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("raffle %d round %d has no entry at position %d", raffle.ID, raffle.RoundNumber, winnerIndex)
	}

	amount := raffle.Pot
	if err := s.accountRepo.Credit(ctx, entry.Player, amount); err != nil {
		log.WithFields(log.Fields{
			"raffleID":  raffle.ID,
			"requestID": requestID,
			"winner":    entry.Player.Hex(),
			"amount":    amount.String(),
			"error":     err,
		}).Warn("Winner payout failed")
		return nil, &entities.TransferFailedError{Winner: entry.Player, Amount: amount, Err: err}
	}

	now := s.now().UTC()
	winner := &entities.RaffleWinner{
		RaffleID:    raffle.ID,
		RoundNumber: raffle.RoundNumber,
		RequestID:   requestID,
		RandomWord:  new(big.Int).Set(randomWords[0]),
		WinnerIndex: winnerIndex,
		Winner:      entry.Player,
		Amount:      amount,
		PlayerCount: raffle.PlayerCount,
		CreatedAt:   now,
	}
	if err := s.winnerRepo.Create(ctx, winner); err != nil {
		return nil, fmt.Errorf("failed to record winner: %w", err)
	}

	raffle.CompleteRound(entry.Player, now)
	if err := s.raffleRepo.Update(ctx, raffle); err != nil {
		return nil, fmt.Errorf("failed to update raffle: %w", err)
	}

	if err := s.eventPublisher.Publish(events.WinnerPickedEvent{
		RaffleID:    winner.RaffleID,
		RoundNumber: winner.RoundNumber,
		RequestID:   requestID,
		Winner:      winner.Winner,
		Amount:      winner.Amount,
		PlayerCount: winner.PlayerCount,
	}); err != nil {
		return nil, fmt.Errorf("failed to publish winner picked event: %w", err)
	}

	log.WithFields(log.Fields{
		"raffleID":    raffle.ID,
		"round":       winner.RoundNumber,
		"requestID":   requestID,
		"winner":      winner.Winner.Hex(),
		"winnerIndex": winnerIndex,
		"amount":      entities.FormatWei(amount),
	}).Info("Winner picked")

	return winner, nil
}
