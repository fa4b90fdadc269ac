package services

import (
	"context"
	"fmt"
	"math/big"

	"raffler/domain/entities"
	"raffler/domain/interfaces"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

// accountService manages the holding account ledger
type accountService struct {
	accountRepo interfaces.AccountRepository
}

// NewAccountService creates a new account service
func NewAccountService(accountRepo interfaces.AccountRepository) interfaces.AccountService {
	return &accountService{accountRepo: accountRepo}
}

// Fund credits an account, creating it when missing
func (s *accountService) Fund(ctx context.Context, address common.Address, amount *big.Int) (*entities.Account, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, entities.ErrInvalidAmount
	}
	if err := s.accountRepo.Credit(ctx, address, amount); err != nil {
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}

	account, err := s.GetAccount(ctx, address)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"address": address.Hex(),
		"amount":  entities.FormatWei(amount),
		"balance": entities.FormatWei(account.Balance),
	}).Info("Account funded")

	return account, nil
}

// GetAccount returns the stored account, or an empty one for unknown addresses
func (s *accountService) GetAccount(ctx context.Context, address common.Address) (*entities.Account, error) {
	account, err := s.accountRepo.Get(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return &entities.Account{Address: address, Balance: new(big.Int)}, nil
	}
	return account, nil
}

// SetFrozen freezes or unfreezes an account
func (s *accountService) SetFrozen(ctx context.Context, address common.Address, frozen bool) error {
	if err := s.accountRepo.SetFrozen(ctx, address, frozen); err != nil {
		return fmt.Errorf("failed to set account frozen flag: %w", err)
	}
	log.WithFields(log.Fields{
		"address": address.Hex(),
		"frozen":  frozen,
	}).Info("Account frozen flag updated")
	return nil
}
