package application_test

import (
	"context"
	"testing"
	"time"

	"raffler/application"
	"raffler/domain/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpkeepWorker_RunOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	worker := application.NewUpkeepWorker(h.app, "@every 10s", time.Minute, h.clock.Now)

	// nothing to do on an empty raffle
	require.NoError(t, worker.RunOnce(ctx))
	assert.Empty(t, h.coordinator.PendingRequests())

	h.enter(t, player1, player2)
	require.NoError(t, worker.RunOnce(ctx))
	assert.Empty(t, h.coordinator.PendingRequests(), "interval has not passed")

	h.clock.Advance(30 * time.Second)
	require.NoError(t, worker.RunOnce(ctx))
	assert.Equal(t, []int64{1}, h.coordinator.PendingRequests())

	raffle, err := h.app.GetRaffle(ctx, h.raffle.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.RaffleStateCalculating, raffle.State)

	// a stuck round is reported but left alone
	h.clock.Advance(2 * time.Minute)
	require.NoError(t, worker.RunOnce(ctx))
	assert.Equal(t, []int64{1}, h.coordinator.PendingRequests())

	raffle, err = h.app.GetRaffle(ctx, h.raffle.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.RaffleStateCalculating, raffle.State)
}

func TestUpkeepWorker_InvalidSchedule(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	worker := application.NewUpkeepWorker(h.app, "not a schedule", time.Minute, nil)

	stop, err := worker.Start(context.Background())
	assert.Error(t, err)
	assert.Nil(t, stop)
}

func TestUpkeepWorker_StartRunsRoundsToCompletion(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t)
	h.enter(t, player1, player2, player3)
	h.clock.Advance(time.Minute)

	stopFulfiller := h.coordinator.Start(ctx)
	defer stopFulfiller()

	worker := application.NewUpkeepWorker(h.app, "@every 1s", time.Minute, h.clock.Now)
	stop, err := worker.Start(ctx)
	require.NoError(t, err)
	defer stop()

	require.Eventually(t, func() bool {
		raffle, err := h.app.GetRaffle(ctx, h.raffle.ID)
		return err == nil && raffle.RecentWinner != nil && raffle.IsOpen()
	}, 5*time.Second, 20*time.Millisecond)

	winners, err := h.app.ListWinners(ctx, h.raffle.ID, 10)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, fees(3).String(), winners[0].Amount.String())
}
