package store

import (
	"context"
	"errors"

	"txnledger/internal/model"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound      = errors.New("账户不存在")
	ErrInsufficientBalance  = errors.New("余额不足")
	ErrDuplicateTransaction = errors.New("交易已存在")
	ErrDuplicateAccount     = errors.New("账户已存在")
)

// LedgerStore 账本存储
//
// Commit 是唯一的余额写入口，契约如下：
//  1. 对目标账户获取排他访问（不同账户互不影响，同一账户串行）
//  2. DEBIT 在排他范围内用最新余额复核充足性，不足则整体拒绝，
//     不落任何数据（已算好的激励一并作废）
//  3. 余额更新、流水写入、outbox 事件在同一个原子单元内完成
//  4. external_id 唯一约束在提交时兜底，冲突返回 ErrDuplicateTransaction
type LedgerStore interface {
	// ExistsByExternalID 幂等预检
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)

	// GetAccount 普通读取（不加锁）
	GetAccount(ctx context.Context, accountID int64) (*model.Account, error)

	// Commit 原子落账：delta 为本次余额净变动（含激励），outbox 可为 nil
	Commit(ctx context.Context, txn *model.Transaction, delta decimal.Decimal, outbox *model.OutboxMessage) error

	// FindByAccount 按账户查询流水（只读投影，分页）
	FindByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error)

	// CreateAccount 开户（核心流程之外的入口，余额只在 Commit 里变动）
	CreateAccount(ctx context.Context, account *model.Account) error

	// ListAccounts 账户列表（只读投影）
	ListAccounts(ctx context.Context) ([]*model.Account, error)
}
