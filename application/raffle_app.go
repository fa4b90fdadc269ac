package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"raffler/domain/entities"
	"raffler/domain/interfaces"
	"raffler/domain/services"
	"raffler/infrastructure/observability"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// RequestAdopter re-registers randomness requests that were outstanding when
// the process stopped
type RequestAdopter interface {
	SeedNextRequestID(next int64)
	Adopt(requestID int64, req entities.RandomnessRequest) error
}

// RaffleApp runs every raffle operation in its own unit of work
type RaffleApp struct {
	uowFactory  UnitOfWorkFactory
	coordinator interfaces.RandomnessCoordinator
	clock       interfaces.Clock
}

// NewRaffleApp creates a new raffle application. A nil clock uses time.Now.
func NewRaffleApp(uowFactory UnitOfWorkFactory, coordinator interfaces.RandomnessCoordinator, clock interfaces.Clock) *RaffleApp {
	return &RaffleApp{
		uowFactory:  uowFactory,
		coordinator: coordinator,
		clock:       clock,
	}
}

func (a *RaffleApp) raffleService(uow UnitOfWork) interfaces.RaffleService {
	return services.NewRaffleService(
		uow.RaffleRepository(),
		uow.RaffleEntryRepository(),
		uow.RaffleWinnerRepository(),
		uow.AccountRepository(),
		a.coordinator,
		uow.EventBus(),
		a.clock,
	)
}

// write runs fn in a transaction and commits when it succeeds
func (a *RaffleApp) write(ctx context.Context, fn func(uow UnitOfWork) error) error {
	uow := a.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// read runs fn in a transaction that is always rolled back
func (a *RaffleApp) read(ctx context.Context, fn func(uow UnitOfWork) error) error {
	uow := a.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return fn(uow)
}

// EnsureRaffle returns the configured raffle, creating it on first start
func (a *RaffleApp) EnsureRaffle(ctx context.Context, params entities.RaffleParams) (*entities.Raffle, error) {
	var raffle *entities.Raffle
	err := a.write(ctx, func(uow UnitOfWork) error {
		var err error
		raffle, err = a.raffleService(uow).EnsureRaffle(ctx, params)
		return err
	})
	return raffle, err
}

// GetRaffle returns a raffle by id
func (a *RaffleApp) GetRaffle(ctx context.Context, raffleID int64) (*entities.Raffle, error) {
	var raffle *entities.Raffle
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		raffle, err = a.raffleService(uow).GetRaffle(ctx, raffleID)
		return err
	})
	return raffle, err
}

// ListRaffles returns every raffle
func (a *RaffleApp) ListRaffles(ctx context.Context) ([]*entities.Raffle, error) {
	var raffles []*entities.Raffle
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		raffles, err = a.raffleService(uow).ListRaffles(ctx)
		return err
	})
	return raffles, err
}

// Enter pays the entrance fee into the current round
func (a *RaffleApp) Enter(ctx context.Context, raffleID int64, player common.Address, payment *big.Int) (*entities.RaffleEntry, error) {
	var entry *entities.RaffleEntry
	err := a.write(ctx, func(uow UnitOfWork) error {
		var err error
		entry, err = a.raffleService(uow).Enter(ctx, raffleID, player, payment)
		return err
	})
	return entry, err
}

// GetPlayer returns the player at index of the current round
func (a *RaffleApp) GetPlayer(ctx context.Context, raffleID, index int64) (common.Address, error) {
	var player common.Address
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		player, err = a.raffleService(uow).GetPlayer(ctx, raffleID, index)
		return err
	})
	return player, err
}

// ListPlayers returns the players of the current round in entry order
func (a *RaffleApp) ListPlayers(ctx context.Context, raffleID int64) ([]common.Address, error) {
	var players []common.Address
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		players, err = a.raffleService(uow).ListPlayers(ctx, raffleID)
		return err
	})
	return players, err
}

// ListWinners returns the newest payouts of a raffle
func (a *RaffleApp) ListWinners(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error) {
	var winners []*entities.RaffleWinner
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		winners, err = a.raffleService(uow).ListWinners(ctx, raffleID, limit)
		return err
	})
	return winners, err
}

// CheckUpkeep evaluates the upkeep predicate without changing state
func (a *RaffleApp) CheckUpkeep(ctx context.Context, raffleID int64) (entities.UpkeepCheck, error) {
	var check entities.UpkeepCheck
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		check, err = a.raffleService(uow).CheckUpkeep(ctx, raffleID)
		return err
	})
	return check, err
}

// PerformUpkeep closes the round and requests randomness. Anyone may call it.
func (a *RaffleApp) PerformUpkeep(ctx context.Context, raffleID int64) (int64, error) {
	var requestID int64
	err := a.write(ctx, func(uow UnitOfWork) error {
		var err error
		requestID, err = a.raffleService(uow).PerformUpkeep(ctx, raffleID)
		return err
	})

	var notNeeded *entities.UpkeepNotNeededError
	switch {
	case err == nil:
		observability.RecordUpkeep(observability.ResultPerformed)
	case errors.As(err, &notNeeded):
		observability.RecordUpkeep(observability.ResultNotNeeded)
	default:
		observability.RecordUpkeep(observability.ResultError)
	}
	return requestID, err
}

// FulfillRandomWords is the coordinator callback. The round only completes
// when the payout and reset commit together.
func (a *RaffleApp) FulfillRandomWords(ctx context.Context, requestID int64, randomWords []*big.Int) error {
	err := a.write(ctx, func(uow UnitOfWork) error {
		_, err := a.raffleService(uow).FulfillRandomWords(ctx, requestID, randomWords)
		return err
	})

	var transferFailed *entities.TransferFailedError
	switch {
	case err == nil:
		observability.RecordFulfillment(observability.ResultFulfilled)
	case errors.Is(err, entities.ErrNonexistentRequest):
		observability.RecordFulfillment(observability.ResultNonexistent)
	case errors.As(err, &transferFailed):
		observability.RecordFulfillment(observability.ResultPayoutFail)
	default:
		observability.RecordFulfillment(observability.ResultError)
	}
	return err
}

// AdoptPendingRequests hands every CALCULATING raffle's request back to the
// coordinator so restarts do not strand rounds. New request ids continue
// after every id the store has seen, fulfilled or pending.
func (a *RaffleApp) AdoptPendingRequests(ctx context.Context, adopter RequestAdopter) (int, error) {
	var (
		calculating []*entities.Raffle
		highest     int64
	)
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		if highest, err = uow.RaffleWinnerRepository().MaxRequestID(ctx); err != nil {
			return err
		}
		calculating, err = uow.RaffleRepository().ListByState(ctx, entities.RaffleStateCalculating)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load randomness requests: %w", err)
	}

	for _, raffle := range calculating {
		if raffle.HasPendingRequest() && *raffle.PendingRequestID > highest {
			highest = *raffle.PendingRequestID
		}
	}
	adopter.SeedNextRequestID(highest + 1)

	adopted := 0
	for _, raffle := range calculating {
		if !raffle.HasPendingRequest() {
			continue
		}
		if err := adopter.Adopt(*raffle.PendingRequestID, entities.NewRandomnessRequest(raffle)); err != nil {
			log.WithFields(log.Fields{
				"raffleID":  raffle.ID,
				"requestID": *raffle.PendingRequestID,
				"error":     err,
			}).Error("Failed to adopt pending randomness request")
			continue
		}
		adopted++
	}

	if adopted > 0 {
		log.WithField("count", adopted).Info("Adopted pending randomness requests")
	}
	return adopted, nil
}

// Fund credits a holding account
func (a *RaffleApp) Fund(ctx context.Context, address common.Address, amount *big.Int) (*entities.Account, error) {
	var account *entities.Account
	err := a.write(ctx, func(uow UnitOfWork) error {
		var err error
		account, err = services.NewAccountService(uow.AccountRepository()).Fund(ctx, address, amount)
		return err
	})
	return account, err
}

// GetAccount returns a holding account
func (a *RaffleApp) GetAccount(ctx context.Context, address common.Address) (*entities.Account, error) {
	var account *entities.Account
	err := a.read(ctx, func(uow UnitOfWork) error {
		var err error
		account, err = services.NewAccountService(uow.AccountRepository()).GetAccount(ctx, address)
		return err
	})
	return account, err
}

// SetFrozen freezes or unfreezes a holding account
func (a *RaffleApp) SetFrozen(ctx context.Context, address common.Address, frozen bool) error {
	return a.write(ctx, func(uow UnitOfWork) error {
		return services.NewAccountService(uow.AccountRepository()).SetFrozen(ctx, address, frozen)
	})
}
