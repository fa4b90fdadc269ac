package events

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeRaffleEnter           EventType = "raffle_enter"
	EventTypeRequestedRaffleWinner EventType = "requested_raffle_winner"
	EventTypeWinnerPicked          EventType = "winner_picked"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// RaffleEnterEvent is emitted when a player enters the current round
type RaffleEnterEvent struct {
	RaffleID    int64          `json:"raffle_id"`
	RoundNumber int64          `json:"round_number"`
	Player      common.Address `json:"player"`
	Payment     *big.Int       `json:"payment"`
	Pot         *big.Int       `json:"pot"`
	PlayerCount int64          `json:"player_count"`
}

func (e RaffleEnterEvent) Type() EventType {
	return EventTypeRaffleEnter
}

// RequestedRaffleWinnerEvent is emitted when upkeep locks the round and requests randomness
type RequestedRaffleWinnerEvent struct {
	RaffleID    int64 `json:"raffle_id"`
	RoundNumber int64 `json:"round_number"`
	RequestID   int64 `json:"request_id"`
}

func (e RequestedRaffleWinnerEvent) Type() EventType {
	return EventTypeRequestedRaffleWinner
}

// WinnerPickedEvent is emitted after the winner was paid and the raffle reset
type WinnerPickedEvent struct {
	RaffleID    int64          `json:"raffle_id"`
	RoundNumber int64          `json:"round_number"`
	RequestID   int64          `json:"request_id"`
	Winner      common.Address `json:"winner"`
	Amount      *big.Int       `json:"amount"`
	PlayerCount int64          `json:"player_count"`
}

func (e WinnerPickedEvent) Type() EventType {
	return EventTypeWinnerPicked
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// SubscribeAll adds a handler for every raffle event type
func (b *Bus) SubscribeAll(handler Handler) {
	for _, eventType := range []EventType{EventTypeRaffleEnter, EventTypeRequestedRaffleWinner, EventTypeWinnerPicked} {
		b.Subscribe(eventType, handler)
	}
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Handlers run asynchronously so a slow subscriber cannot block a commit
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// Publisher is anything that accepts domain events
type Publisher interface {
	Publish(event Event) error
}

// Publish emits the event to subscribers in the background
func (b *Bus) Publish(event Event) error {
	b.Emit(context.Background(), event)
	return nil
}

// MultiPublisher forwards every event to each wrapped publisher in order
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TransactionalBus holds events raised inside a unit of work until it commits.
type TransactionalBus struct {
	real    Publisher
	pending []Event
}

func NewTransactionalBus(real Publisher) *TransactionalBus {
	return &TransactionalBus{real: real}
}

// Publish queues the event without delivering it
func (b *TransactionalBus) Publish(e Event) error {
	log.WithFields(log.Fields{
		"eventType":    e.Type(),
		"pendingCount": len(b.pending),
	}).Debug("Adding event to transactional bus pending queue")
	b.pending = append(b.pending, e)
	return nil
}

// Pending returns the events queued so far
func (b *TransactionalBus) Pending() []Event {
	return b.pending
}

// Flush delivers pending events. Called after a successful commit, so delivery
// failures are logged and never undo the transaction.
func (b *TransactionalBus) Flush() {
	log.WithField("pendingEventCount", len(b.pending)).Debug("Flushing pending events")

	for _, ev := range b.pending {
		if b.real == nil {
			continue
		}
		if err := b.real.Publish(ev); err != nil {
			log.WithFields(log.Fields{
				"eventType": ev.Type(),
				"error":     err,
			}).Error("Failed to publish event during flush")
		}
	}
	b.pending = nil
}

// Discard drops pending events after a rollback
func (b *TransactionalBus) Discard() {
	if len(b.pending) > 0 {
		log.WithField("discardedEventCount", len(b.pending)).Debug("Discarding pending events")
	}
	b.pending = nil
}
