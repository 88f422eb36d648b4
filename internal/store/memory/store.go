package memory

import (
	"context"
	"sync"
	"time"

	"txnledger/internal/model"
	"txnledger/internal/store"

	"github.com/shopspring/decimal"
)

// Store 内存账本存储，用于测试和本地运行
//
// 排他访问用"每账户一把互斥锁"实现：muMap 按账户懒初始化，
// mapMu 只保护 muMap 本身。不同账户的 Commit 完全并发，
// 同一账户串行 —— 和 MySQL 实现的行锁语义一致
type Store struct {
	mapMu sync.Mutex
	muMap map[int64]*sync.Mutex

	mu           sync.Mutex // 保护下面三个容器
	accounts     map[int64]*model.Account
	transactions map[string]*model.Transaction // external_id -> 流水
	ordered      []*model.Transaction
	outbox       []*model.OutboxMessage
	nextID       int64
}

func NewStore() *Store {
	return &Store{
		muMap:        make(map[int64]*sync.Mutex),
		accounts:     make(map[int64]*model.Account),
		transactions: make(map[string]*model.Transaction),
		nextID:       1,
	}
}

func (s *Store) accountLock(accountID int64) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.muMap[accountID]; !exists {
		s.muMap[accountID] = &sync.Mutex{}
	}
	return s.muMap[accountID]
}

func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.transactions[externalID]
	return exists, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[accountID]
	if !exists {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *Store) Commit(ctx context.Context, txn *model.Transaction, delta decimal.Decimal, outbox *model.OutboxMessage) error {
	// 账户锁在外，容器锁在内；检查和写入在同一临界区内完成，
	// 幂等键的 check-then-act 竞态在这里闭合
	accMu := s.accountLock(txn.AccountID)
	accMu.Lock()
	defer accMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[txn.AccountID]
	if !exists {
		return store.ErrAccountNotFound
	}

	if _, dup := s.transactions[txn.ExternalID]; dup {
		return store.ErrDuplicateTransaction
	}

	if txn.Type == model.TransactionTypeDebit && account.Balance.LessThan(txn.Amount) {
		return store.ErrInsufficientBalance
	}

	account.Balance = account.Balance.Add(delta)
	account.UpdatedAt = time.Now()

	txn.ID = s.nextID
	s.nextID++
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	copied := *txn
	s.transactions[txn.ExternalID] = &copied
	s.ordered = append(s.ordered, &copied)

	if outbox != nil {
		msg := *outbox
		msg.ID = s.nextID
		s.nextID++
		s.outbox = append(s.outbox, &msg)
	}

	return nil
}

func (s *Store) FindByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.Transaction
	for _, t := range s.ordered {
		if t.AccountID == accountID {
			matched = append(matched, t)
		}
	}

	total := int64(len(matched))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	// 与 MySQL 实现一致：最新在前
	reversed := make([]*model.Transaction, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		copied := *matched[i]
		reversed = append(reversed, &copied)
	}

	start := (page - 1) * pageSize
	if start >= len(reversed) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(reversed) {
		end = len(reversed)
	}
	return reversed[start:end], total, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.Username == account.Username || a.Email == account.Email {
			return store.ErrDuplicateAccount
		}
	}

	if account.ID == 0 {
		account.ID = s.nextID
		s.nextID++
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt

	copied := *account
	s.accounts[account.ID] = &copied
	return nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]*model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		copied := *a
		accounts = append(accounts, &copied)
	}
	return accounts, nil
}

// PendingOutbox 返回已落账的 outbox 事件，测试用
func (s *Store) PendingOutbox() []*model.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]*model.OutboxMessage, len(s.outbox))
	copy(copied, s.outbox)
	return copied
}

var _ store.LedgerStore = (*Store)(nil)
