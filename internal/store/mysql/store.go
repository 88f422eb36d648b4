package mysql

import (
	"context"
	"fmt"
	"time"

	"txnledger/internal/infrastructure/lock"
	"txnledger/internal/model"
	"txnledger/internal/repository"
	"txnledger/internal/store"
	"txnledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Store 基于 MySQL 的账本存储
//
// 排他访问的实现分两层：
//  1. Redis 账户锁：跨实例把同一账户的提交排队，先到者先进数据库事务
//  2. SELECT ... FOR UPDATE 行锁：事务内的正确性兜底，Redis 不可用或
//     锁过期时退化为行锁排队，只影响吞吐不影响正确性
type Store struct {
	db              *gorm.DB
	redisClient     *redis.Client
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewStore(db *gorm.DB, redisClient *redis.Client) *Store {
	return &Store{
		db:              db,
		redisClient:     redisClient,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	return s.transactionRepo.ExistsByExternalID(ctx, externalID)
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*model.Account, error) {
	return s.accountRepo.GetByID(ctx, accountID)
}

// Commit 原子落账
//
// 锁的获取时机很关键：激励计算（可能打外部接口）已经在调用方完成，
// 这里只覆盖"复核+变更"序列，账户锁的持有时间与外部延迟无关
func (s *Store) Commit(ctx context.Context, txn *model.Transaction, delta decimal.Decimal, outbox *model.OutboxMessage) error {
	accountLock := lock.NewAccountLock(s.redisClient, txn.AccountID, fmt.Sprintf("%d", idgen.NextID()))
	if err := accountLock.Lock(ctx, 50*time.Millisecond, 100); err != nil {
		return fmt.Errorf("获取账户锁失败: %w", err)
	}
	defer accountLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByIDForUpdate(ctx, tx, txn.AccountID)
		if err != nil {
			return err
		}

		// 行锁下用最新余额复核充足性。预检到这里之间可能已有并发出账，
		// 复核失败则整体回滚，算好的激励随之作废
		if txn.Type == model.TransactionTypeDebit && account.Balance.LessThan(txn.Amount) {
			return store.ErrInsufficientBalance
		}

		newBalance := account.Balance.Add(delta)
		if err := s.accountRepo.UpdateBalance(ctx, tx, txn.AccountID, newBalance); err != nil {
			return err
		}

		// external_id 唯一索引在这里兜底幂等：并发的同键投递即使都
		// 通过了预检，也只有一个能写进来
		if err := s.transactionRepo.Create(ctx, tx, txn); err != nil {
			return err
		}

		if outbox != nil {
			if err := s.outboxRepo.Create(ctx, tx, outbox); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Store) FindByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByAccountID(ctx, accountID, page, pageSize)
}

func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	return s.accountRepo.Create(ctx, account)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*model.Account, error) {
	return s.accountRepo.List(ctx)
}

var _ store.LedgerStore = (*Store)(nil)
