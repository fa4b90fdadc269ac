package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/domain/testhelpers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRaffleService_CreateRaffle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  entities.RaffleParams
		wantErr error
	}{
		{
			name: "valid parameters",
			params: entities.RaffleParams{
				Name:             "weekly",
				EntranceFee:      TestEntranceFee,
				Interval:         30 * time.Second,
				GasLane:          TestGasLane,
				CallbackGasLimit: 500000,
			},
		},
		{
			name: "zero entrance fee",
			params: entities.RaffleParams{
				Name:             "weekly",
				Interval:         30 * time.Second,
				CallbackGasLimit: 500000,
			},
			wantErr: entities.ErrInvalidRaffleConfig,
		},
		{
			name: "sub-second interval",
			params: entities.RaffleParams{
				Name:             "weekly",
				EntranceFee:      TestEntranceFee,
				Interval:         500 * time.Millisecond,
				CallbackGasLimit: 500000,
			},
			wantErr: entities.ErrInvalidRaffleConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mocks := NewTestMocks()
			if tt.wantErr == nil {
				mocks.RaffleRepo.On("Create", mock.Anything, mock.AnythingOfType("*entities.Raffle")).
					Run(func(args mock.Arguments) {
						args.Get(1).(*entities.Raffle).ID = 7
					}).
					Return(nil)
			}

			raffle, err := mocks.Service(TestNow).CreateRaffle(context.Background(), tt.params)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, raffle)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(7), raffle.ID)
				assert.Equal(t, entities.RaffleStateOpen, raffle.State)
				assert.Equal(t, tt.params.EntranceFee.String(), raffle.EntranceFee.String())
				assert.Zero(t, raffle.Pot.Sign())
				assert.Equal(t, int64(30), raffle.IntervalSeconds)
				assert.Equal(t, TestNow, raffle.LastTimestamp)
				assert.Zero(t, raffle.PlayerCount)
			}
			mocks.AssertAllExpectations(t)
		})
	}
}

func TestRaffleService_EnsureRaffle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	params := entities.RaffleParams{
		Name:             "test-raffle",
		EntranceFee:      TestEntranceFee,
		Interval:         time.Duration(TestInterval) * time.Second,
		CallbackGasLimit: 500000,
	}

	t.Run("returns existing raffle", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		existing := createTestRaffle(withPlayers(2))
		mocks.RaffleRepo.On("GetByName", ctx, "test-raffle").Return(existing, nil)

		raffle, err := mocks.Service(TestNow).EnsureRaffle(ctx, params)
		require.NoError(t, err)
		assert.Same(t, existing, raffle)
		mocks.AssertAllExpectations(t)
	})

	t.Run("creates missing raffle", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		mocks.RaffleRepo.On("GetByName", ctx, "test-raffle").Return(nil, nil)
		mocks.RaffleRepo.On("Create", ctx, mock.AnythingOfType("*entities.Raffle")).Return(nil)

		raffle, err := mocks.Service(TestNow).EnsureRaffle(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "test-raffle", raffle.Name)
		mocks.AssertAllExpectations(t)
	})
}

func TestRaffleService_Enter(t *testing.T) {
	t.Parallel()

	t.Run("reverts when payment is below the entrance fee", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle()
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)

		underpaid := new(big.Int).Sub(TestEntranceFee, big.NewInt(1))
		entry, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer1, underpaid)

		assert.ErrorIs(t, err, entities.ErrNotEnoughEthEntered)
		assert.Nil(t, entry)
		assert.Zero(t, raffle.PlayerCount)
		assert.Zero(t, raffle.Pot.Sign())
		mocks.AccountRepo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
		mocks.AssertAllExpectations(t)
	})

	t.Run("reverts with zero payment", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(createTestRaffle(), nil)

		_, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer1, new(big.Int))
		assert.ErrorIs(t, err, entities.ErrNotEnoughEthEntered)
		mocks.AssertAllExpectations(t)
	})

	t.Run("rejects entries while calculating", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)

		_, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer2, TestEntranceFee)

		assert.ErrorIs(t, err, entities.ErrNotOpen)
		assert.Equal(t, int64(1), raffle.PlayerCount)
		mocks.AssertAllExpectations(t)
	})

	t.Run("fee check wins over state check", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)

		_, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer2, big.NewInt(1))
		assert.ErrorIs(t, err, entities.ErrNotEnoughEthEntered)
	})

	t.Run("unknown raffle", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, int64(99)).Return(nil, nil)

		_, err := mocks.Service(TestNow).Enter(context.Background(), 99, TestPlayer1, TestEntranceFee)
		assert.ErrorIs(t, err, entities.ErrRaffleNotFound)
	})

	t.Run("payer without funds", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle()
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)
		mocks.AccountRepo.On("Debit", mock.Anything, TestPlayer1, testhelpers.Wei(TestEntranceFee)).Return(entities.ErrInsufficientBalance)

		_, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer1, TestEntranceFee)

		assert.ErrorIs(t, err, entities.ErrInsufficientBalance)
		assert.Zero(t, raffle.PlayerCount)
		mocks.AssertAllExpectations(t)
	})

	t.Run("records player and grows the pot", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(2))
		overpayment := new(big.Int).Add(TestEntranceFee, big.NewInt(5))
		wantPot := new(big.Int).Add(fees(3), big.NewInt(5))

		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)
		mocks.AccountRepo.On("Debit", mock.Anything, TestPlayer3, testhelpers.Wei(overpayment)).Return(nil)
		mocks.EntryRepo.On("Create", mock.Anything, mock.MatchedBy(func(e *entities.RaffleEntry) bool {
			return e.Position == 2 && e.Player == TestPlayer3 && e.Payment.Cmp(overpayment) == 0 && e.RoundNumber == 0
		})).Return(nil)
		mocks.RaffleRepo.On("Update", mock.Anything, raffle).Return(nil)
		mocks.EventPublisher.On("Publish", mock.MatchedBy(func(e events.RaffleEnterEvent) bool {
			return e.RaffleID == TestRaffleID &&
				e.Player == TestPlayer3 &&
				e.Payment.Cmp(overpayment) == 0 &&
				e.Pot.Cmp(wantPot) == 0 &&
				e.PlayerCount == 3
		})).Return(nil)

		entry, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer3, overpayment)

		require.NoError(t, err)
		assert.Equal(t, int64(2), entry.Position)
		assert.Equal(t, int64(3), raffle.PlayerCount)
		assert.Equal(t, wantPot.String(), raffle.Pot.String())
		mocks.AssertAllExpectations(t)
	})

	t.Run("pot grows past the int64 range", func(t *testing.T) {
		t.Parallel()

		ether := big.NewInt(1_000_000_000_000_000_000)
		fee := new(big.Int).Mul(big.NewInt(5), ether)

		mocks := NewTestMocks()
		raffle := createTestRaffle(func(r *entities.Raffle) {
			r.EntranceFee = fee
			r.PlayerCount = 1
			r.Pot = new(big.Int).Set(fee)
		})
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)
		mocks.AccountRepo.On("Debit", mock.Anything, TestPlayer2, testhelpers.Wei(fee)).Return(nil)
		mocks.EntryRepo.On("Create", mock.Anything, mock.AnythingOfType("*entities.RaffleEntry")).Return(nil)
		mocks.RaffleRepo.On("Update", mock.Anything, raffle).Return(nil)
		mocks.EventPublisher.On("Publish", mock.AnythingOfType("events.RaffleEnterEvent")).Return(nil)

		_, err := mocks.Service(TestNow).Enter(context.Background(), TestRaffleID, TestPlayer2, fee)

		require.NoError(t, err)
		assert.Equal(t, int64(2), raffle.PlayerCount)
		assert.Equal(t, "10000000000000000000", raffle.Pot.String())
		mocks.AssertAllExpectations(t)
	})
}

func TestRaffleService_GetPlayer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raffle  *entities.Raffle
		index   int64
		want    common.Address
		wantErr error
	}{
		{
			name:    "index zero with no players",
			raffle:  createTestRaffle(),
			index:   0,
			wantErr: entities.ErrPlayerIndexOutOfRange,
		},
		{
			name:    "negative index",
			raffle:  createTestRaffle(withPlayers(1)),
			index:   -1,
			wantErr: entities.ErrPlayerIndexOutOfRange,
		},
		{
			name:    "index equal to player count",
			raffle:  createTestRaffle(withPlayers(2)),
			index:   2,
			wantErr: entities.ErrPlayerIndexOutOfRange,
		},
		{
			name:   "first player",
			raffle: createTestRaffle(withPlayers(2)),
			index:  0,
			want:   TestPlayer1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mocks := NewTestMocks()
			mocks.RaffleRepo.On("GetByID", mock.Anything, TestRaffleID).Return(tt.raffle, nil)
			if tt.wantErr == nil {
				mocks.EntryRepo.On("GetByPosition", mock.Anything, TestRaffleID, int64(0), tt.index).
					Return(createTestEntry(tt.index, tt.want), nil)
			}

			player, err := mocks.Service(TestNow).GetPlayer(context.Background(), TestRaffleID, tt.index)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, player)
			}
			mocks.AssertAllExpectations(t)
		})
	}
}

func TestRaffleService_ListPlayers(t *testing.T) {
	t.Parallel()

	mocks := NewTestMocks()
	raffle := createTestRaffle(withPlayers(2), func(r *entities.Raffle) { r.RoundNumber = 3 })
	mocks.RaffleRepo.On("GetByID", mock.Anything, TestRaffleID).Return(raffle, nil)
	mocks.EntryRepo.On("ListForRound", mock.Anything, TestRaffleID, int64(3)).Return([]*entities.RaffleEntry{
		createTestEntry(0, TestPlayer2),
		createTestEntry(1, TestPlayer1),
	}, nil)

	players, err := mocks.Service(TestNow).ListPlayers(context.Background(), TestRaffleID)

	require.NoError(t, err)
	assert.Equal(t, []common.Address{TestPlayer2, TestPlayer1}, players)
	mocks.AssertAllExpectations(t)
}

func TestRaffleService_CheckUpkeep(t *testing.T) {
	t.Parallel()

	elapsed := TestNow.Add(time.Duration(TestInterval+1) * time.Second)

	tests := []struct {
		name   string
		raffle *entities.Raffle
		now    time.Time
		want   bool
	}{
		{
			name:   "no players and no balance",
			raffle: createTestRaffle(),
			now:    elapsed,
			want:   false,
		},
		{
			name:   "raffle not open",
			raffle: createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID)),
			now:    elapsed,
			want:   false,
		},
		{
			name:   "not enough time passed",
			raffle: createTestRaffle(withPlayers(1)),
			now:    TestNow.Add(time.Duration(TestInterval-5) * time.Second),
			want:   false,
		},
		{
			name:   "exactly one interval passed",
			raffle: createTestRaffle(withPlayers(1)),
			now:    TestNow.Add(time.Duration(TestInterval) * time.Second),
			want:   true,
		},
		{
			name:   "all conditions hold",
			raffle: createTestRaffle(withPlayers(3)),
			now:    elapsed,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mocks := NewTestMocks()
			mocks.RaffleRepo.On("GetByID", mock.Anything, TestRaffleID).Return(tt.raffle, nil)
			stateBefore := *tt.raffle

			check, err := mocks.Service(tt.now).CheckUpkeep(context.Background(), TestRaffleID)

			require.NoError(t, err)
			assert.Equal(t, tt.want, check.UpkeepNeeded)
			assert.Empty(t, check.PerformData)
			assert.Equal(t, stateBefore, *tt.raffle)
			mocks.AssertAllExpectations(t)
		})
	}
}

func TestRaffleService_PerformUpkeep(t *testing.T) {
	t.Parallel()

	elapsed := TestNow.Add(time.Duration(TestInterval+1) * time.Second)

	t.Run("reverts when upkeep is not needed", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle()
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)

		requestID, err := mocks.Service(elapsed).PerformUpkeep(context.Background(), TestRaffleID)

		var notNeeded *entities.UpkeepNotNeededError
		require.ErrorAs(t, err, &notNeeded)
		assert.Zero(t, notNeeded.Balance.Sign())
		assert.Equal(t, int64(0), notNeeded.NumPlayers)
		assert.Equal(t, entities.RaffleStateOpen, notNeeded.State)
		assert.Zero(t, requestID)
		mocks.Coordinator.AssertNotCalled(t, "RequestRandomWords", mock.Anything, mock.Anything)
		mocks.AssertAllExpectations(t)
	})

	t.Run("reports calculating state to a competing keeper", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(2), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)

		_, err := mocks.Service(elapsed).PerformUpkeep(context.Background(), TestRaffleID)

		var notNeeded *entities.UpkeepNotNeededError
		require.ErrorAs(t, err, &notNeeded)
		assert.Equal(t, fees(2).String(), notNeeded.Balance.String())
		assert.Equal(t, int64(2), notNeeded.NumPlayers)
		assert.Equal(t, entities.RaffleStateCalculating, notNeeded.State)
		assert.Equal(t, fmt.Sprintf("Raffle_UpkeepNotNeeded(%s, 2, 1)", fees(2)), err.Error())
	})

	t.Run("locks the round and requests randomness", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1))
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)
		mocks.Coordinator.On("RequestRandomWords", mock.Anything, entities.RandomnessRequest{
			RaffleID:             TestRaffleID,
			GasLane:              TestGasLane,
			SubscriptionID:       1,
			RequestConfirmations: 1,
			CallbackGasLimit:     500000,
			NumWords:             1,
		}).Return(int64(1), nil)
		mocks.RaffleRepo.On("Update", mock.Anything, raffle).Return(nil)
		mocks.EventPublisher.On("Publish", events.RequestedRaffleWinnerEvent{
			RaffleID:  TestRaffleID,
			RequestID: 1,
		}).Return(nil)

		requestID, err := mocks.Service(elapsed).PerformUpkeep(context.Background(), TestRaffleID)

		require.NoError(t, err)
		assert.Greater(t, requestID, int64(0))
		assert.Equal(t, entities.RaffleStateCalculating, raffle.State)
		require.NotNil(t, raffle.PendingRequestID)
		assert.Equal(t, requestID, *raffle.PendingRequestID)
		mocks.AssertAllExpectations(t)
	})

	t.Run("coordinator failure leaves the raffle open", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1))
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)
		mocks.Coordinator.On("RequestRandomWords", mock.Anything, mock.Anything).Return(int64(0), errors.New("subscription not funded"))

		_, err := mocks.Service(elapsed).PerformUpkeep(context.Background(), TestRaffleID)

		require.Error(t, err)
		assert.Equal(t, entities.RaffleStateOpen, raffle.State)
		assert.Nil(t, raffle.PendingRequestID)
		mocks.RaffleRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("rejects a non-positive request id", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1))
		mocks.RaffleRepo.On("GetByIDForUpdate", mock.Anything, TestRaffleID).Return(raffle, nil)
		mocks.Coordinator.On("RequestRandomWords", mock.Anything, mock.Anything).Return(int64(0), nil)

		_, err := mocks.Service(elapsed).PerformUpkeep(context.Background(), TestRaffleID)

		require.Error(t, err)
		assert.True(t, raffle.IsOpen())
	})
}

func TestRaffleService_FulfillRandomWords(t *testing.T) {
	t.Parallel()

	fulfilledAt := TestNow.Add(time.Minute)

	t.Run("nonexistent request ids", func(t *testing.T) {
		t.Parallel()

		for _, requestID := range []int64{0, 1} {
			mocks := NewTestMocks()
			if requestID > 0 {
				mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, requestID).Return(nil, nil)
			}

			_, err := mocks.Service(fulfilledAt).FulfillRandomWords(context.Background(), requestID, []*big.Int{big.NewInt(42)})

			assert.ErrorIs(t, err, entities.ErrNonexistentRequest, "request %d", requestID)
			assert.EqualError(t, err, "nonexistent request")
			mocks.AssertAllExpectations(t)
		}
	})

	t.Run("no random words", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, TestRequestID).Return(raffle, nil)

		_, err := mocks.Service(fulfilledAt).FulfillRandomWords(context.Background(), TestRequestID, nil)

		assert.ErrorIs(t, err, entities.ErrNoRandomWords)
		assert.Equal(t, entities.RaffleStateCalculating, raffle.State)
	})

	t.Run("sole participant wins the whole pot", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, TestRequestID).Return(raffle, nil)
		mocks.EntryRepo.On("GetByPosition", mock.Anything, TestRaffleID, int64(0), int64(0)).
			Return(createTestEntry(0, TestPlayer1), nil)
		mocks.AccountRepo.On("Credit", mock.Anything, TestPlayer1, testhelpers.Wei(TestEntranceFee)).Return(nil)
		mocks.WinnerRepo.On("Create", mock.Anything, mock.AnythingOfType("*entities.RaffleWinner")).Return(nil)
		mocks.RaffleRepo.On("Update", mock.Anything, raffle).Return(nil)
		mocks.EventPublisher.On("Publish", mock.MatchedBy(func(e events.WinnerPickedEvent) bool {
			return e.RaffleID == TestRaffleID &&
				e.RoundNumber == 0 &&
				e.RequestID == TestRequestID &&
				e.Winner == TestPlayer1 &&
				e.Amount.Cmp(TestEntranceFee) == 0 &&
				e.PlayerCount == 1
		})).Return(nil)

		winner, err := mocks.Service(fulfilledAt).FulfillRandomWords(context.Background(), TestRequestID, []*big.Int{big.NewInt(42)})

		require.NoError(t, err)
		assert.Equal(t, TestPlayer1, winner.Winner)
		assert.Equal(t, int64(0), winner.WinnerIndex)
		assert.Equal(t, TestEntranceFee.String(), winner.Amount.String())

		require.NotNil(t, raffle.RecentWinner)
		assert.Equal(t, TestPlayer1, *raffle.RecentWinner)
		assert.Equal(t, entities.RaffleStateOpen, raffle.State)
		assert.Zero(t, raffle.PlayerCount)
		assert.Zero(t, raffle.Pot.Sign())
		assert.Equal(t, int64(1), raffle.RoundNumber)
		assert.Equal(t, fulfilledAt, raffle.LastTimestamp)
		assert.Nil(t, raffle.PendingRequestID)
		mocks.AssertAllExpectations(t)
	})

	t.Run("maps the word onto the entry order", func(t *testing.T) {
		t.Parallel()

		players := []common.Address{TestPlayer1, TestPlayer2, TestPlayer3, TestPlayer4}
		// 2^255 + 2 is 2 mod 4
		word := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(2))

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(4), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, TestRequestID).Return(raffle, nil)
		mocks.EntryRepo.On("GetByPosition", mock.Anything, TestRaffleID, int64(0), int64(2)).
			Return(createTestEntry(2, players[2]), nil)
		mocks.AccountRepo.On("Credit", mock.Anything, TestPlayer3, testhelpers.Wei(fees(4))).Return(nil)
		mocks.WinnerRepo.On("Create", mock.Anything, mock.MatchedBy(func(w *entities.RaffleWinner) bool {
			return w.WinnerIndex == 2 && w.RandomWord.Cmp(word) == 0 && w.PlayerCount == 4
		})).Return(nil)
		mocks.RaffleRepo.On("Update", mock.Anything, raffle).Return(nil)
		mocks.EventPublisher.On("Publish", mock.AnythingOfType("events.WinnerPickedEvent")).Return(nil)

		winner, err := mocks.Service(fulfilledAt).FulfillRandomWords(context.Background(), TestRequestID, []*big.Int{word})

		require.NoError(t, err)
		assert.Equal(t, TestPlayer3, winner.Winner)
		assert.Equal(t, fees(4).String(), winner.Amount.String())
		mocks.AssertAllExpectations(t)
	})

	t.Run("payout failure keeps the round calculating", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, TestRequestID).Return(raffle, nil)
		mocks.EntryRepo.On("GetByPosition", mock.Anything, TestRaffleID, int64(0), int64(0)).
			Return(createTestEntry(0, TestPlayer1), nil)
		mocks.AccountRepo.On("Credit", mock.Anything, TestPlayer1, testhelpers.Wei(TestEntranceFee)).Return(entities.ErrAccountFrozen)

		_, err := mocks.Service(fulfilledAt).FulfillRandomWords(context.Background(), TestRequestID, []*big.Int{big.NewInt(42)})

		var transferErr *entities.TransferFailedError
		require.ErrorAs(t, err, &transferErr)
		assert.Equal(t, TestPlayer1, transferErr.Winner)
		assert.Equal(t, TestEntranceFee.String(), transferErr.Amount.String())
		assert.ErrorIs(t, err, entities.ErrAccountFrozen)

		assert.Equal(t, entities.RaffleStateCalculating, raffle.State)
		assert.Equal(t, int64(1), raffle.PlayerCount)
		require.NotNil(t, raffle.PendingRequestID)
		assert.Equal(t, TestRequestID, *raffle.PendingRequestID)
		mocks.RaffleRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
		mocks.WinnerRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		mocks.EventPublisher.AssertNotCalled(t, "Publish", mock.Anything)
	})

	t.Run("replayed request is rejected", func(t *testing.T) {
		t.Parallel()

		mocks := NewTestMocks()
		raffle := createTestRaffle(withPlayers(1), withPendingRequest(TestRequestID))
		mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, TestRequestID).Return(raffle, nil).Once()
		mocks.RaffleRepo.On("GetByPendingRequestForUpdate", mock.Anything, TestRequestID).Return(nil, nil).Once()
		mocks.EntryRepo.On("GetByPosition", mock.Anything, TestRaffleID, int64(0), int64(0)).
			Return(createTestEntry(0, TestPlayer1), nil)
		mocks.AccountRepo.On("Credit", mock.Anything, TestPlayer1, testhelpers.Wei(TestEntranceFee)).Return(nil)
		mocks.WinnerRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
		mocks.RaffleRepo.On("Update", mock.Anything, raffle).Return(nil)
		mocks.EventPublisher.On("Publish", mock.Anything).Return(nil)

		service := mocks.Service(fulfilledAt)
		_, err := service.FulfillRandomWords(context.Background(), TestRequestID, []*big.Int{big.NewInt(7)})
		require.NoError(t, err)

		_, err = service.FulfillRandomWords(context.Background(), TestRequestID, []*big.Int{big.NewInt(7)})
		assert.ErrorIs(t, err, entities.ErrNonexistentRequest)
		mocks.AccountRepo.AssertNumberOfCalls(t, "Credit", 1)
	})
}
