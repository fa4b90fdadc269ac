// Package memory is an in-memory implementation of the unit of work. It is
// safe for concurrent use and is intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"raffler/application"
	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
)

// Store holds the committed state. A unit of work holds the store lock from
// Begin until Commit or Rollback, which serialises all units like row locks do.
type Store struct {
	mu        sync.Mutex
	state     *state
	publisher events.Publisher
}

type state struct {
	nextRaffleID int64
	nextEntryID  int64
	nextWinnerID int64
	raffles      map[int64]entities.Raffle
	entries      []entities.RaffleEntry
	winners      []entities.RaffleWinner
	accounts     map[common.Address]entities.Account
}

var _ application.UnitOfWorkFactory = (*Store)(nil)

// New creates an empty store. Committed events are handed to publisher, which may be nil.
func New(publisher events.Publisher) *Store {
	return &Store{
		publisher: publisher,
		state: &state{
			nextRaffleID: 1,
			nextEntryID:  1,
			nextWinnerID: 1,
			raffles:      make(map[int64]entities.Raffle),
			accounts:     make(map[common.Address]entities.Account),
		},
	}
}

// Create returns a new, not yet started, unit of work
func (s *Store) Create() application.UnitOfWork {
	return &unitOfWork{store: s}
}

func (st *state) clone() *state {
	c := &state{
		nextRaffleID: st.nextRaffleID,
		nextEntryID:  st.nextEntryID,
		nextWinnerID: st.nextWinnerID,
		raffles:      make(map[int64]entities.Raffle, len(st.raffles)),
		entries:      make([]entities.RaffleEntry, len(st.entries)),
		winners:      make([]entities.RaffleWinner, len(st.winners)),
		accounts:     make(map[common.Address]entities.Account, len(st.accounts)),
	}
	for id, r := range st.raffles {
		c.raffles[id] = copyRaffle(r)
	}
	for i, e := range st.entries {
		c.entries[i] = copyEntry(e)
	}
	for i, w := range st.winners {
		c.winners[i] = copyWinner(w)
	}
	for addr, a := range st.accounts {
		c.accounts[addr] = copyAccount(a)
	}
	return c
}

func copyWei(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func copyRaffle(r entities.Raffle) entities.Raffle {
	r.EntranceFee = copyWei(r.EntranceFee)
	r.Pot = copyWei(r.Pot)
	if r.PendingRequestID != nil {
		id := *r.PendingRequestID
		r.PendingRequestID = &id
	}
	if r.RequestedAt != nil {
		at := *r.RequestedAt
		r.RequestedAt = &at
	}
	if r.RecentWinner != nil {
		winner := *r.RecentWinner
		r.RecentWinner = &winner
	}
	return r
}

func copyWinner(w entities.RaffleWinner) entities.RaffleWinner {
	if w.RandomWord != nil {
		w.RandomWord = new(big.Int).Set(w.RandomWord)
	}
	w.Amount = copyWei(w.Amount)
	return w
}

func copyEntry(e entities.RaffleEntry) entities.RaffleEntry {
	e.Payment = copyWei(e.Payment)
	return e
}

func copyAccount(a entities.Account) entities.Account {
	a.Balance = copyWei(a.Balance)
	return a
}

type unitOfWork struct {
	store       *Store
	working     *state
	bus         *events.TransactionalBus
	raffleRepo  *raffleRepository
	entryRepo   *entryRepository
	winnerRepo  *winnerRepository
	accountRepo *accountRepository
}

// Begin takes the store lock and starts working on a private copy of the state
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.working != nil {
		return fmt.Errorf("transaction already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.store.mu.Lock()
	u.working = u.store.state.clone()
	u.bus = events.NewTransactionalBus(u.store.publisher)
	u.raffleRepo = &raffleRepository{st: u.working}
	u.entryRepo = &entryRepository{st: u.working}
	u.winnerRepo = &winnerRepository{st: u.working}
	u.accountRepo = &accountRepository{st: u.working}
	return nil
}

// Commit publishes the working copy and flushes pending events
func (u *unitOfWork) Commit() error {
	if u.working == nil {
		return fmt.Errorf("no transaction to commit")
	}
	u.store.state = u.working
	u.working = nil
	u.store.mu.Unlock()

	u.bus.Flush()
	return nil
}

// Rollback drops the working copy and pending events
func (u *unitOfWork) Rollback() error {
	if u.working == nil {
		return nil
	}
	u.working = nil
	u.store.mu.Unlock()

	u.bus.Discard()
	return nil
}

func (u *unitOfWork) RaffleRepository() interfaces.RaffleRepository {
	if u.raffleRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.raffleRepo
}

func (u *unitOfWork) RaffleEntryRepository() interfaces.RaffleEntryRepository {
	if u.entryRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.entryRepo
}

func (u *unitOfWork) RaffleWinnerRepository() interfaces.RaffleWinnerRepository {
	if u.winnerRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.winnerRepo
}

func (u *unitOfWork) AccountRepository() interfaces.AccountRepository {
	if u.accountRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.accountRepo
}

func (u *unitOfWork) EventBus() interfaces.EventPublisher {
	if u.bus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.bus
}

// raffleRepository -----------------------------------------------------------

type raffleRepository struct {
	st *state
}

func (r *raffleRepository) Create(_ context.Context, raffle *entities.Raffle) error {
	for _, existing := range r.st.raffles {
		if existing.Name == raffle.Name {
			return fmt.Errorf("failed to create raffle: name %q already exists", raffle.Name)
		}
	}

	now := time.Now().UTC()
	raffle.ID = r.st.nextRaffleID
	raffle.CreatedAt = now
	raffle.UpdatedAt = now
	r.st.nextRaffleID++
	r.st.raffles[raffle.ID] = copyRaffle(*raffle)
	return nil
}

func (r *raffleRepository) GetByID(_ context.Context, id int64) (*entities.Raffle, error) {
	raffle, ok := r.st.raffles[id]
	if !ok {
		return nil, nil
	}
	c := copyRaffle(raffle)
	return &c, nil
}

// GetByIDForUpdate is GetByID: the unit of work already holds the store lock
func (r *raffleRepository) GetByIDForUpdate(ctx context.Context, id int64) (*entities.Raffle, error) {
	return r.GetByID(ctx, id)
}

func (r *raffleRepository) GetByPendingRequestForUpdate(_ context.Context, requestID int64) (*entities.Raffle, error) {
	for _, raffle := range r.st.raffles {
		if raffle.PendingRequestID != nil && *raffle.PendingRequestID == requestID {
			c := copyRaffle(raffle)
			return &c, nil
		}
	}
	return nil, nil
}

func (r *raffleRepository) GetByName(_ context.Context, name string) (*entities.Raffle, error) {
	for _, raffle := range r.st.raffles {
		if raffle.Name == name {
			c := copyRaffle(raffle)
			return &c, nil
		}
	}
	return nil, nil
}

func (r *raffleRepository) Update(_ context.Context, raffle *entities.Raffle) error {
	stored, ok := r.st.raffles[raffle.ID]
	if !ok {
		return fmt.Errorf("raffle %d not found", raffle.ID)
	}
	if (raffle.State == entities.RaffleStateCalculating) != raffle.HasPendingRequest() {
		return fmt.Errorf("failed to update raffle: pending request does not match state %s", raffle.State)
	}

	// Only round fields are mutable
	stored.State = raffle.State
	stored.RoundNumber = raffle.RoundNumber
	stored.LastTimestamp = raffle.LastTimestamp
	stored.Pot = raffle.Pot
	stored.PlayerCount = raffle.PlayerCount
	stored.PendingRequestID = raffle.PendingRequestID
	stored.RequestedAt = raffle.RequestedAt
	stored.RecentWinner = raffle.RecentWinner
	stored.UpdatedAt = time.Now().UTC()

	r.st.raffles[raffle.ID] = copyRaffle(stored)
	raffle.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *raffleRepository) List(_ context.Context) ([]*entities.Raffle, error) {
	return r.filter(func(*entities.Raffle) bool { return true }), nil
}

func (r *raffleRepository) ListByState(_ context.Context, state entities.RaffleState) ([]*entities.Raffle, error) {
	return r.filter(func(raffle *entities.Raffle) bool { return raffle.State == state }), nil
}

func (r *raffleRepository) filter(keep func(*entities.Raffle) bool) []*entities.Raffle {
	var result []*entities.Raffle
	for _, raffle := range r.st.raffles {
		c := copyRaffle(raffle)
		if keep(&c) {
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// entryRepository ------------------------------------------------------------

type entryRepository struct {
	st *state
}

func (r *entryRepository) Create(_ context.Context, entry *entities.RaffleEntry) error {
	for _, existing := range r.st.entries {
		if existing.RaffleID == entry.RaffleID && existing.RoundNumber == entry.RoundNumber && existing.Position == entry.Position {
			return fmt.Errorf("failed to create raffle entry: position %d already taken", entry.Position)
		}
	}
	entry.ID = r.st.nextEntryID
	r.st.nextEntryID++
	r.st.entries = append(r.st.entries, copyEntry(*entry))
	return nil
}

func (r *entryRepository) GetByPosition(_ context.Context, raffleID, roundNumber, position int64) (*entities.RaffleEntry, error) {
	for _, entry := range r.st.entries {
		if entry.RaffleID == raffleID && entry.RoundNumber == roundNumber && entry.Position == position {
			e := copyEntry(entry)
			return &e, nil
		}
	}
	return nil, nil
}

func (r *entryRepository) ListForRound(_ context.Context, raffleID, roundNumber int64) ([]*entities.RaffleEntry, error) {
	var result []*entities.RaffleEntry
	for _, entry := range r.st.entries {
		if entry.RaffleID == raffleID && entry.RoundNumber == roundNumber {
			e := copyEntry(entry)
			result = append(result, &e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Position < result[j].Position })
	return result, nil
}

// winnerRepository -----------------------------------------------------------

type winnerRepository struct {
	st *state
}

func (r *winnerRepository) Create(_ context.Context, winner *entities.RaffleWinner) error {
	if winner.RandomWord == nil {
		return fmt.Errorf("winner record requires a random word")
	}
	for _, existing := range r.st.winners {
		if existing.RequestID == winner.RequestID {
			return fmt.Errorf("failed to create raffle winner: request %d already fulfilled", winner.RequestID)
		}
	}
	winner.ID = r.st.nextWinnerID
	r.st.nextWinnerID++
	r.st.winners = append(r.st.winners, copyWinner(*winner))
	return nil
}

func (r *winnerRepository) MaxRequestID(_ context.Context) (int64, error) {
	var highest int64
	for _, winner := range r.st.winners {
		if winner.RequestID > highest {
			highest = winner.RequestID
		}
	}
	return highest, nil
}

func (r *winnerRepository) ListByRaffle(_ context.Context, raffleID int64, limit int) ([]*entities.RaffleWinner, error) {
	var result []*entities.RaffleWinner
	for _, winner := range r.st.winners {
		if winner.RaffleID == raffleID {
			w := copyWinner(winner)
			result = append(result, &w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RoundNumber > result[j].RoundNumber })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// accountRepository ----------------------------------------------------------

type accountRepository struct {
	st *state
}

func (r *accountRepository) Get(_ context.Context, address common.Address) (*entities.Account, error) {
	account, ok := r.st.accounts[address]
	if !ok {
		return nil, nil
	}
	c := copyAccount(account)
	return &c, nil
}

func (r *accountRepository) Credit(_ context.Context, address common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return entities.ErrInvalidAmount
	}
	now := time.Now().UTC()
	account, ok := r.st.accounts[address]
	if !ok {
		account = entities.Account{Address: address, Balance: new(big.Int), CreatedAt: now}
	}
	if !account.CanReceive() {
		return entities.ErrAccountFrozen
	}
	account.Balance = new(big.Int).Add(copyWei(account.Balance), amount)
	account.UpdatedAt = now
	r.st.accounts[address] = account
	return nil
}

func (r *accountRepository) Debit(_ context.Context, address common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return entities.ErrInvalidAmount
	}
	account, ok := r.st.accounts[address]
	if !ok || account.Balance == nil || account.Balance.Cmp(amount) < 0 {
		return entities.ErrInsufficientBalance
	}
	account.Balance = new(big.Int).Sub(account.Balance, amount)
	account.UpdatedAt = time.Now().UTC()
	r.st.accounts[address] = account
	return nil
}

func (r *accountRepository) SetFrozen(_ context.Context, address common.Address, frozen bool) error {
	now := time.Now().UTC()
	account, ok := r.st.accounts[address]
	if !ok {
		account = entities.Account{Address: address, Balance: new(big.Int), CreatedAt: now}
	}
	account.Frozen = frozen
	account.UpdatedAt = now
	r.st.accounts[address] = account
	return nil
}
