package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 用户账户表
// 余额是整个系统唯一的共享可变状态，只允许在 LedgerStore.Commit 的
// 排他访问范围内被修改
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email     string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Balance   decimal.Decimal `gorm:"type:decimal(19,2);not null" json:"balance"` // 余额（金额一律用定点小数，禁止浮点）
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
