package service

import (
	"context"
	"fmt"

	"txnledger/internal/model"
	"txnledger/internal/store"

	"github.com/shopspring/decimal"
)

// AccountService 开户与余额查询
// 只有开户会在这里写存储；余额的一切变动都走 TransactionService
type AccountService struct {
	store store.LedgerStore
}

func NewAccountService(ledgerStore store.LedgerStore) *AccountService {
	return &AccountService{store: ledgerStore}
}

type CreateAccountRequest struct {
	Username       string `json:"username" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	InitialBalance string `json:"initial_balance"`
}

func (s *AccountService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*model.Account, error) {
	balance := decimal.Zero
	if req.InitialBalance != "" {
		parsed, err := decimal.NewFromString(req.InitialBalance)
		if err != nil {
			return nil, fmt.Errorf("%w: 初始余额不可解析 %q", ErrInvalidEventData, req.InitialBalance)
		}
		if parsed.IsNegative() {
			return nil, fmt.Errorf("%w: 初始余额不能为负", ErrInvalidEventData)
		}
		balance = parsed
	}

	account := &model.Account{
		Username: req.Username,
		Email:    req.Email,
		Balance:  balance,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.store.ListAccounts(ctx)
}

func (s *AccountService) ListTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	// 先确认账户存在，与不存在的账户查空列表区分开
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, 0, err
	}
	return s.store.FindByAccount(ctx, accountID, page, pageSize)
}
