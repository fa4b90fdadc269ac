package vrf

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"raffler/domain/entities"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConsumer struct {
	mu        sync.Mutex
	err       error
	delivered map[int64][]*big.Int
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{delivered: make(map[int64][]*big.Int)}
}

func (f *fakeConsumer) FulfillRandomWords(_ context.Context, requestID int64, words []*big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered[requestID] = words
	return nil
}

func (f *fakeConsumer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeConsumer) words(requestID int64) ([]*big.Int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.delivered[requestID]
	return w, ok
}

func testRequest() entities.RandomnessRequest {
	return entities.RandomnessRequest{
		RaffleID:             1,
		GasLane:              common.HexToHash("0x01"),
		SubscriptionID:       7,
		RequestConfirmations: 1,
		CallbackGasLimit:     500000,
		NumWords:             1,
	}
}

func TestCoordinator_RequestIDsStartAtOne(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(Config{})
	ctx := context.Background()

	first, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)
	second, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, []int64{1, 2}, c.PendingRequests())
}

func TestCoordinator_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(Config{})

	req := testRequest()
	req.NumWords = 0
	_, err := c.RequestRandomWords(context.Background(), req)
	assert.Error(t, err)

	req = testRequest()
	req.CallbackGasLimit = 0
	_, err = c.RequestRandomWords(context.Background(), req)
	assert.Error(t, err)

	assert.Empty(t, c.PendingRequests())
}

func TestCoordinator_NonexistentRequest(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(Config{})
	c.SetConsumer(newFakeConsumer())

	for _, id := range []int64{0, 1} {
		err := c.FulfillRandomWords(context.Background(), id)
		assert.ErrorIs(t, err, ErrNonexistentRequest)
		assert.EqualError(t, err, "nonexistent request")
	}
}

func TestCoordinator_FulfillWithOverride(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	consumer := newFakeConsumer()
	c := NewCoordinator(Config{})
	c.SetConsumer(consumer)

	id, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)

	require.NoError(t, c.FulfillRandomWordsWithOverride(ctx, id, []*big.Int{big.NewInt(42)}))

	words, ok := consumer.words(id)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(42), words[0])
	assert.Empty(t, c.PendingRequests())

	// fulfilled requests cannot be replayed
	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id), ErrNonexistentRequest)

	expectedCharge := new(big.Int).Add(BaseFee, new(big.Int).Mul(GasPriceLink, big.NewInt(500000)))
	assert.Equal(t, 0, expectedCharge.Cmp(c.Charged(7)))
}

func TestCoordinator_WrongWordCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCoordinator(Config{})
	c.SetConsumer(newFakeConsumer())

	id, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)

	err = c.FulfillRandomWordsWithOverride(ctx, id, []*big.Int{big.NewInt(1), big.NewInt(2)})
	assert.Error(t, err)
	assert.Equal(t, []int64{id}, c.PendingRequests())
}

func TestCoordinator_FailedDeliveryStaysPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	consumer := newFakeConsumer()
	consumer.setErr(errors.New("payout failed"))
	c := NewCoordinator(Config{})
	c.SetConsumer(consumer)

	id, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)

	assert.Error(t, c.FulfillRandomWords(ctx, id))
	assert.Equal(t, []int64{id}, c.PendingRequests())

	consumer.setErr(nil)
	require.NoError(t, c.FulfillRandomWords(ctx, id))
	assert.Empty(t, c.PendingRequests())
}

func TestCoordinator_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	consumer := newFakeConsumer()
	consumer.setErr(errors.New("payout failed"))
	c := NewCoordinator(Config{MaxAttempts: 2})
	c.SetConsumer(consumer)

	id, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)

	assert.Error(t, c.FulfillRandomWords(ctx, id))
	assert.Equal(t, []int64{id}, c.PendingRequests())
	assert.Error(t, c.FulfillRandomWords(ctx, id))
	assert.Empty(t, c.PendingRequests())
}

func TestCoordinator_RequestsUnknownToConsumer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		age         time.Duration
		wantPending bool
	}{
		{name: "retried while the consumer may still be committing", age: time.Second, wantPending: true},
		{name: "retried just before the grace runs out", age: DefaultUnknownRequestGrace - time.Millisecond, wantPending: true},
		{name: "dropped once the grace has passed", age: DefaultUnknownRequestGrace, wantPending: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			consumer := newFakeConsumer()
			consumer.setErr(entities.ErrNonexistentRequest)
			c := NewCoordinator(Config{})
			c.SetConsumer(consumer)

			start := time.Unix(1_700_000_000, 0)
			c.now = func() time.Time { return start }
			id, err := c.RequestRandomWords(ctx, testRequest())
			require.NoError(t, err)

			c.now = func() time.Time { return start.Add(tt.age) }
			assert.ErrorIs(t, c.FulfillRandomWords(ctx, id), entities.ErrNonexistentRequest)

			if tt.wantPending {
				assert.Equal(t, []int64{id}, c.PendingRequests())
			} else {
				assert.Empty(t, c.PendingRequests())
			}
		})
	}
}

func TestCoordinator_DeliversOnceConsumerCommits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	consumer := newFakeConsumer()
	consumer.setErr(entities.ErrNonexistentRequest)
	c := NewCoordinator(Config{UnknownRequestGrace: time.Minute})
	c.SetConsumer(consumer)

	id, err := c.RequestRandomWords(ctx, testRequest())
	require.NoError(t, err)

	// the fulfiller got there before the request row was visible
	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id), entities.ErrNonexistentRequest)
	assert.Equal(t, []int64{id}, c.PendingRequests())

	consumer.setErr(nil)
	require.NoError(t, c.FulfillRandomWords(ctx, id))
	assert.Empty(t, c.PendingRequests())
	_, ok := consumer.words(id)
	assert.True(t, ok)
}

func TestCoordinator_AdoptContinuesIDs(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(Config{})
	require.NoError(t, c.Adopt(5, testRequest()))
	assert.Error(t, c.Adopt(0, testRequest()))

	noWords := testRequest()
	noWords.NumWords = 0
	assert.Error(t, c.Adopt(6, noWords))

	id, err := c.RequestRandomWords(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
	assert.Equal(t, []int64{5, 6}, c.PendingRequests())
}

func TestCoordinator_AdoptedRequestChargesSubscription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCoordinator(Config{})
	c.SetConsumer(newFakeConsumer())

	req := testRequest()
	req.SubscriptionID = 11
	req.CallbackGasLimit = 250000
	require.NoError(t, c.Adopt(3, req))
	require.NoError(t, c.FulfillRandomWords(ctx, 3))

	expected := new(big.Int).Add(BaseFee, new(big.Int).Mul(GasPriceLink, big.NewInt(250000)))
	assert.Equal(t, expected.String(), c.Charged(11).String())
	assert.Zero(t, c.Charged(0).Sign())
}

func TestCoordinator_SeedNextRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		seeds  []int64
		wantID int64
	}{
		{name: "fresh coordinator", wantID: 1},
		{name: "continues after stored ids", seeds: []int64{8}, wantID: 8},
		{name: "never moves backwards", seeds: []int64{8, 3}, wantID: 8},
		{name: "ignores empty history", seeds: []int64{1, 0}, wantID: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCoordinator(Config{})
			for _, seed := range tt.seeds {
				c.SeedNextRequestID(seed)
			}
			id, err := c.RequestRandomWords(context.Background(), testRequest())
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestCoordinator_StartDeliversAfterConfirmations(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := newFakeConsumer()
	c := NewCoordinator(Config{BlockTime: 10 * time.Millisecond})
	c.SetConsumer(consumer)

	stop := c.Start(ctx)
	defer stop()

	req := testRequest()
	req.RequestConfirmations = 3
	id, err := c.RequestRandomWords(ctx, req)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := consumer.words(id)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	words, _ := consumer.words(id)
	assert.Equal(t, DeriveRandomWords(id, 1), words)
}

func TestDeriveRandomWords(t *testing.T) {
	t.Parallel()

	words := DeriveRandomWords(1, 2)
	require.Len(t, words, 2)

	encoded := append(common.LeftPadBytes([]byte{1}, 32), common.LeftPadBytes([]byte{1}, 32)...)
	expected := new(big.Int).SetBytes(crypto.Keccak256(encoded))
	assert.Equal(t, 0, expected.Cmp(words[1]))
	assert.NotEqual(t, 0, words[0].Cmp(words[1]))
	assert.Equal(t, DeriveRandomWords(1, 2), words)
}
