package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易类型 / 状态常量
// ============================================================================

const (
	TransactionTypeCredit = "CREDIT" // 入账
	TransactionTypeDebit  = "DEBIT"  // 出账
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// 激励类型
const (
	IncentiveTypeNone       = "NONE"
	IncentiveTypePercentage = "PERCENTAGE"
)

// ============================================================================
// 交易流水实体
// ============================================================================

// Transaction 交易流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. external_id 全局唯一 —— 幂等屏障，数据库唯一索引兜底
// 3. 余额变动与流水写入在同一个事务内完成
type Transaction struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID       string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"external_id"` // 上游事件ID（幂等键）
	AccountID        int64           `gorm:"index;not null" json:"account_id"`
	Type             string          `gorm:"type:varchar(10);not null" json:"type"`              // CREDIT / DEBIT
	Amount           decimal.Decimal `gorm:"type:decimal(19,2);not null" json:"amount"`          // 交易金额（恒为正数）
	Description      string          `gorm:"type:varchar(500)" json:"description"`
	IncentiveApplied bool            `gorm:"not null;default:false" json:"incentive_applied"`
	IncentiveAmount  decimal.Decimal `gorm:"type:decimal(19,2);not null" json:"incentive_amount"` // 未命中激励时为 0
	Status           string          `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"` // 提交时刻
}

func (Transaction) TableName() string {
	return "transaction"
}
