// Package vrf provides a local randomness coordinator for development
// networks. It accepts requests, waits for the configured number of
// confirmations and calls the consumer back with derived random words.
package vrf

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"raffler/domain/entities"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxNumWords is the largest word count a single request may ask for
	MaxNumWords = 500
	// DefaultUnknownRequestGrace is how long a request the consumer does not
	// know yet is retried before it is dropped
	DefaultUnknownRequestGrace = 30 * time.Second
)

var (
	// BaseFee is the flat premium charged per request, 0.25 LINK
	BaseFee = big.NewInt(250_000_000_000_000_000)
	// GasPriceLink is the LINK per gas charged for the callback, 1e9
	GasPriceLink = big.NewInt(1_000_000_000)
)

// ErrNonexistentRequest is returned for ids the coordinator is not waiting on
var ErrNonexistentRequest = entities.ErrNonexistentRequest

// Consumer receives random words for a request it made
type Consumer interface {
	FulfillRandomWords(ctx context.Context, requestID int64, randomWords []*big.Int) error
}

// Config holds coordinator settings
type Config struct {
	// BlockTime is the simulated time per confirmation
	BlockTime time.Duration
	// MaxAttempts bounds delivery retries per request. Zero retries forever.
	MaxAttempts int
	// UnknownRequestGrace keeps retrying a request the consumer reports as
	// unknown for this long after it was made. The request is registered
	// before the consumer's transaction commits, so a fast delivery can
	// arrive first.
	UnknownRequestGrace time.Duration
}

type pendingRequest struct {
	id            int64
	raffleID      int64
	subscription  uint64
	numWords      uint32
	confirmations uint16
	gasLimit      uint32
	createdAt     time.Time
	attempts      int
}

// Coordinator is an in-process randomness coordinator
type Coordinator struct {
	mu            sync.Mutex
	cfg           Config
	consumer      Consumer
	nextRequestID int64
	pending       map[int64]*pendingRequest
	charged       map[uint64]*big.Int
	now           func() time.Time
	wake          chan struct{}
}

// NewCoordinator creates a coordinator whose first request id is 1
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = time.Second
	}
	if cfg.UnknownRequestGrace <= 0 {
		cfg.UnknownRequestGrace = DefaultUnknownRequestGrace
	}
	return &Coordinator{
		cfg:           cfg,
		nextRequestID: 1,
		pending:       make(map[int64]*pendingRequest),
		charged:       make(map[uint64]*big.Int),
		now:           time.Now,
		wake:          make(chan struct{}, 1),
	}
}

// SetConsumer sets the callback target. It must be called before Start.
func (c *Coordinator) SetConsumer(consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumer = consumer
}

// RequestRandomWords registers a request and returns its id
func (c *Coordinator) RequestRandomWords(_ context.Context, req entities.RandomnessRequest) (int64, error) {
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, fmt.Errorf("numWords must be between 1 and %d, got %d", MaxNumWords, req.NumWords)
	}
	if req.CallbackGasLimit == 0 {
		return 0, fmt.Errorf("callback gas limit must be positive")
	}

	c.mu.Lock()
	id := c.nextRequestID
	c.nextRequestID++
	c.pending[id] = &pendingRequest{
		id:            id,
		raffleID:      req.RaffleID,
		subscription:  req.SubscriptionID,
		numWords:      req.NumWords,
		confirmations: req.RequestConfirmations,
		gasLimit:      req.CallbackGasLimit,
		createdAt:     c.now(),
	}
	c.mu.Unlock()

	log.WithFields(log.Fields{
		"requestID":     id,
		"raffleID":      req.RaffleID,
		"keyHash":       req.GasLane.Hex(),
		"subscription":  req.SubscriptionID,
		"confirmations": req.RequestConfirmations,
		"numWords":      req.NumWords,
	}).Info("Random words requested")

	c.signal()
	return id, nil
}

// SeedNextRequestID makes sure no id below next is handed out again. It is
// called on startup with one past the highest id the store has seen.
func (c *Coordinator) SeedNextRequestID(next int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if next > c.nextRequestID {
		c.nextRequestID = next
		log.WithField("nextRequestID", next).Info("Seeded randomness request ids")
	}
}

// Adopt registers a request that was issued before a restart, so the raffle
// waiting on it can still be fulfilled. Later ids continue after it.
func (c *Coordinator) Adopt(requestID int64, req entities.RandomnessRequest) error {
	if requestID <= 0 {
		return fmt.Errorf("invalid request id %d", requestID)
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return fmt.Errorf("numWords must be between 1 and %d, got %d", MaxNumWords, req.NumWords)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[requestID]; exists {
		return nil
	}
	c.pending[requestID] = &pendingRequest{
		id:            requestID,
		raffleID:      req.RaffleID,
		subscription:  req.SubscriptionID,
		numWords:      req.NumWords,
		confirmations: req.RequestConfirmations,
		gasLimit:      req.CallbackGasLimit,
		createdAt:     c.now(),
	}
	if requestID >= c.nextRequestID {
		c.nextRequestID = requestID + 1
	}

	log.WithFields(log.Fields{
		"requestID":    requestID,
		"raffleID":     req.RaffleID,
		"subscription": req.SubscriptionID,
		"gasLimit":     req.CallbackGasLimit,
	}).Info("Adopted pending randomness request")
	return nil
}

// PendingRequests returns the ids still waiting for delivery, in order
func (c *Coordinator) PendingRequests() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]int64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Charged returns the LINK charged to a subscription so far
func (c *Coordinator) Charged(subscriptionID uint64) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if total, ok := c.charged[subscriptionID]; ok {
		return new(big.Int).Set(total)
	}
	return new(big.Int)
}

// FulfillRandomWords delivers derived words for a pending request
func (c *Coordinator) FulfillRandomWords(ctx context.Context, requestID int64) error {
	return c.FulfillRandomWordsWithOverride(ctx, requestID, nil)
}

// FulfillRandomWordsWithOverride delivers the given words, or derived words
// when words is empty. A failed delivery leaves the request pending.
func (c *Coordinator) FulfillRandomWordsWithOverride(ctx context.Context, requestID int64, words []*big.Int) error {
	c.mu.Lock()
	req, ok := c.pending[requestID]
	consumer := c.consumer
	var attempts int
	if ok {
		req.attempts++
		attempts = req.attempts
	}
	c.mu.Unlock()

	if !ok {
		return ErrNonexistentRequest
	}
	if consumer == nil {
		return fmt.Errorf("no consumer registered for request %d", requestID)
	}

	if len(words) == 0 {
		words = DeriveRandomWords(requestID, req.numWords)
	} else if uint32(len(words)) != req.numWords {
		return fmt.Errorf("request %d expects %d words, got %d", requestID, req.numWords, len(words))
	}

	err := consumer.FulfillRandomWords(ctx, requestID, words)

	fields := log.Fields{
		"requestID": requestID,
		"raffleID":  req.raffleID,
		"attempt":   attempts,
	}

	switch {
	case err == nil:
		c.complete(req)
		log.WithFields(fields).Info("Random words fulfilled")
		return nil
	case errors.Is(err, entities.ErrNonexistentRequest) && c.now().Sub(req.createdAt) < c.cfg.UnknownRequestGrace:
		log.WithFields(fields).Debug("Consumer does not know request yet, will retry")
		return err
	case errors.Is(err, entities.ErrNonexistentRequest):
		// The transaction that stored the id was rolled back
		c.drop(requestID)
		log.WithFields(fields).Warn("Consumer does not know request, dropping it")
		return err
	case c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts:
		c.drop(requestID)
		log.WithFields(fields).WithError(err).Error("Giving up on randomness request")
		return err
	default:
		log.WithFields(fields).WithError(err).Warn("Random words delivery failed, will retry")
		return err
	}
}

func (c *Coordinator) complete(req *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, req.id)

	payment := new(big.Int).Mul(GasPriceLink, new(big.Int).SetUint64(uint64(req.gasLimit)))
	payment.Add(payment, BaseFee)
	total, ok := c.charged[req.subscription]
	if !ok {
		total = new(big.Int)
		c.charged[req.subscription] = total
	}
	total.Add(total, payment)
}

func (c *Coordinator) drop(requestID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}

// due returns the requests whose confirmations have elapsed
func (c *Coordinator) due() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var ids []int64
	for id, req := range c.pending {
		wait := time.Duration(req.confirmations) * c.cfg.BlockTime
		if !now.Before(req.createdAt.Add(wait)) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Start runs the fulfiller loop until ctx is done or the returned stop function is called
func (c *Coordinator) Start(ctx context.Context) func() {
	stopChan := make(chan struct{})

	go func() {
		log.WithField("blockTime", c.cfg.BlockTime).Info("Randomness fulfiller started")

		ticker := time.NewTicker(c.cfg.BlockTime)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info("Randomness fulfiller shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Randomness fulfiller shutting down (stop requested)...")
				return
			case <-ticker.C:
			case <-c.wake:
			}

			for _, id := range c.due() {
				// errors are logged by the delivery itself
				_ = c.FulfillRandomWords(ctx, id)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stopChan) })
	}
}

// DeriveRandomWords computes keccak256(abi.encode(requestID, i)) for each word
func DeriveRandomWords(requestID int64, numWords uint32) []*big.Int {
	words := make([]*big.Int, numWords)
	id := common.LeftPadBytes(big.NewInt(requestID).Bytes(), 32)
	for i := uint32(0); i < numWords; i++ {
		index := common.LeftPadBytes(new(big.Int).SetUint64(uint64(i)).Bytes(), 32)
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(id, index))
	}
	return words
}
