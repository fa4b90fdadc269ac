package services

import (
	"math/big"
	"testing"
	"time"

	"raffler/domain/entities"
	"raffler/domain/testhelpers"

	"github.com/ethereum/go-ethereum/common"
)

// Test constants for consistent test data
const (
	TestRaffleID  = int64(1)
	TestInterval  = int64(30)
	TestRequestID = int64(1)
)

var (
	TestEntranceFee = big.NewInt(10_000_000_000_000_000) // 0.01 ETH
	TestNow     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	TestPlayer1 = common.HexToAddress("0x1000000000000000000000000000000000000001")
	TestPlayer2 = common.HexToAddress("0x2000000000000000000000000000000000000002")
	TestPlayer3 = common.HexToAddress("0x3000000000000000000000000000000000000003")
	TestPlayer4 = common.HexToAddress("0x4000000000000000000000000000000000000004")
	TestGasLane = common.HexToHash("0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc")
)

// TestMocks aggregates all mocks a raffle service needs
type TestMocks struct {
	RaffleRepo     *testhelpers.MockRaffleRepository
	EntryRepo      *testhelpers.MockRaffleEntryRepository
	WinnerRepo     *testhelpers.MockRaffleWinnerRepository
	AccountRepo    *testhelpers.MockAccountRepository
	Coordinator    *testhelpers.MockRandomnessCoordinator
	EventPublisher *testhelpers.MockEventPublisher
}

// NewTestMocks creates a new set of mocks
func NewTestMocks() *TestMocks {
	return &TestMocks{
		RaffleRepo:     &testhelpers.MockRaffleRepository{},
		EntryRepo:      &testhelpers.MockRaffleEntryRepository{},
		WinnerRepo:     &testhelpers.MockRaffleWinnerRepository{},
		AccountRepo:    &testhelpers.MockAccountRepository{},
		Coordinator:    &testhelpers.MockRandomnessCoordinator{},
		EventPublisher: &testhelpers.MockEventPublisher{},
	}
}

// Service builds a raffle service over the mocks with a fixed clock
func (m *TestMocks) Service(now time.Time) *raffleService {
	return NewRaffleService(
		m.RaffleRepo,
		m.EntryRepo,
		m.WinnerRepo,
		m.AccountRepo,
		m.Coordinator,
		m.EventPublisher,
		func() time.Time { return now },
	).(*raffleService)
}

// AssertAllExpectations verifies all mock expectations were met
func (m *TestMocks) AssertAllExpectations(t *testing.T) {
	m.RaffleRepo.AssertExpectations(t)
	m.EntryRepo.AssertExpectations(t)
	m.WinnerRepo.AssertExpectations(t)
	m.AccountRepo.AssertExpectations(t)
	m.Coordinator.AssertExpectations(t)
	m.EventPublisher.AssertExpectations(t)
}

// createTestRaffle builds an open raffle whose round started at TestNow
func createTestRaffle(opts ...func(*entities.Raffle)) *entities.Raffle {
	raffle := &entities.Raffle{
		ID:                   TestRaffleID,
		Name:                 "test-raffle",
		EntranceFee:          TestEntranceFee,
		IntervalSeconds:      TestInterval,
		State:                entities.RaffleStateOpen,
		LastTimestamp:        TestNow,
		Pot:                  new(big.Int),
		GasLane:              TestGasLane,
		SubscriptionID:       1,
		CallbackGasLimit:     500000,
		RequestConfirmations: 1,
		CreatedAt:            TestNow,
		UpdatedAt:            TestNow,
	}
	for _, opt := range opts {
		opt(raffle)
	}
	return raffle
}

func withPlayers(count int64) func(*entities.Raffle) {
	return func(r *entities.Raffle) {
		r.PlayerCount = count
		r.Pot = new(big.Int).Mul(big.NewInt(count), r.EntranceFee)
	}
}

func withPendingRequest(requestID int64) func(*entities.Raffle) {
	return func(r *entities.Raffle) {
		r.StartCalculating(requestID, TestNow)
	}
}

func createTestEntry(position int64, player common.Address) *entities.RaffleEntry {
	return &entities.RaffleEntry{
		ID:          position + 1,
		RaffleID:    TestRaffleID,
		RoundNumber: 0,
		Position:    position,
		Player:      player,
		Payment:     TestEntranceFee,
		EnteredAt:   TestNow,
	}
}

// fees returns n entrance fees in wei
func fees(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), TestEntranceFee)
}
