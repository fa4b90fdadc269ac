package entities

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account is a holding account in the balance ledger
type Account struct {
	Address   common.Address `db:"address"`
	Balance   *big.Int       `db:"balance"` // wei
	Frozen    bool           `db:"frozen"`  // frozen accounts reject incoming transfers
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// CanReceive returns true if transfers into the account are allowed
func (a *Account) CanReceive() bool {
	return !a.Frozen
}
