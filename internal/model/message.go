package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionMessage 上游投递的交易事件
// 字段名与上游约定保持一致（camelCase）；amount 用字符串承载，
// 反序列化后再解析为定点小数
type TransactionMessage struct {
	TransactionID string `json:"transactionId"` // 全局唯一，幂等键
	AccountID     int64  `json:"accountId"`
	Type          string `json:"type"` // CREDIT / DEBIT
	Amount        string `json:"amount"`
	Description   string `json:"description"`
}

// TransactionCompletedEvent 交易落账后对外广播的事件（经 outbox 投递）
type TransactionCompletedEvent struct {
	ExternalID       string          `json:"external_id"`
	AccountID        int64           `json:"account_id"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	IncentiveApplied bool            `json:"incentive_applied"`
	IncentiveAmount  decimal.Decimal `json:"incentive_amount"`
	Balance          decimal.Decimal `json:"balance"` // 落账后的余额
	CompletedAt      time.Time       `json:"completed_at"`
}
