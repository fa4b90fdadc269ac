package testhelpers

import (
	"context"
	"math/big"

	"raffler/domain/entities"
	"raffler/domain/events"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
)

// MockRaffleRepository is a mock implementation of RaffleRepository
type MockRaffleRepository struct {
	mock.Mock
}

func (m *MockRaffleRepository) Create(ctx context.Context, raffle *entities.Raffle) error {
	args := m.Called(ctx, raffle)
	return args.Error(0)
}

func (m *MockRaffleRepository) GetByID(ctx context.Context, id int64) (*entities.Raffle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Raffle), args.Error(1)
}

func (m *MockRaffleRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Raffle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Raffle), args.Error(1)
}

func (m *MockRaffleRepository) GetByPendingRequestForUpdate(ctx context.Context, requestID int64) (*entities.Raffle, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Raffle), args.Error(1)
}

func (m *MockRaffleRepository) GetByName(ctx context.Context, name string) (*entities.Raffle, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Raffle), args.Error(1)
}

func (m *MockRaffleRepository) Update(ctx context.Context, raffle *entities.Raffle) error {
	args := m.Called(ctx, raffle)
	return args.Error(0)
}

func (m *MockRaffleRepository) List(ctx context.Context) ([]*entities.Raffle, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Raffle), args.Error(1)
}

func (m *MockRaffleRepository) ListByState(ctx context.Context, state entities.RaffleState) ([]*entities.Raffle, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Raffle), args.Error(1)
}

// MockRaffleEntryRepository is a mock implementation of RaffleEntryRepository
type MockRaffleEntryRepository struct {
	mock.Mock
}

func (m *MockRaffleEntryRepository) Create(ctx context.Context, entry *entities.RaffleEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRaffleEntryRepository) GetByPosition(ctx context.Context, raffleID, roundNumber, position int64) (*entities.RaffleEntry, error) {
	args := m.Called(ctx, raffleID, roundNumber, position)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.RaffleEntry), args.Error(1)
}

func (m *MockRaffleEntryRepository) ListForRound(ctx context.Context, raffleID, roundNumber int64) ([]*entities.RaffleEntry, error) {
	args := m.Called(ctx, raffleID, roundNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.RaffleEntry), args.Error(1)
}

// MockRaffleWinnerRepository is a mock implementation of RaffleWinnerRepository
type MockRaffleWinnerRepository struct {
	mock.Mock
}

func (m *MockRaffleWinnerRepository) Create(ctx context.Context, winner *entities.RaffleWinner) error {
	args := m.Called(ctx, winner)
	return args.Error(0)
}

func (m *MockRaffleWinnerRepository) MaxRequestID(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRaffleWinnerRepository) ListByRaffle(ctx context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error) {
	args := m.Called(ctx, raffleID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.RaffleWinner), args.Error(1)
}

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Get(ctx context.Context, address common.Address) (*entities.Account, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) Credit(ctx context.Context, address common.Address, amount *big.Int) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) Debit(ctx context.Context, address common.Address, amount *big.Int) error {
	args := m.Called(ctx, address, amount)
	return args.Error(0)
}

func (m *MockAccountRepository) SetFrozen(ctx context.Context, address common.Address, frozen bool) error {
	args := m.Called(ctx, address, frozen)
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockRandomnessCoordinator is a mock implementation of RandomnessCoordinator
type MockRandomnessCoordinator struct {
	mock.Mock
}

func (m *MockRandomnessCoordinator) RequestRandomWords(ctx context.Context, req entities.RandomnessRequest) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

// Wei matches a *big.Int argument by value rather than by pointer layout
func Wei(expected *big.Int) interface{} {
	return mock.MatchedBy(func(actual *big.Int) bool {
		return actual != nil && actual.Cmp(expected) == 0
	})
}
