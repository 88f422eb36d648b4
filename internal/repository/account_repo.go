package repository

import (
	"context"
	"errors"

	"txnledger/internal/model"
	"txnledger/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.ErrDuplicateAccount
		}
		return err
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, accountID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDForUpdate 行锁读取，必须在事务 tx 内调用
// SELECT ... FOR UPDATE 把同一账户的并发提交串行化，不同账户互不阻塞
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateBalance 写入新余额，只允许在持有行锁的事务内调用
func (r *AccountRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, accountID int64, balance decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("balance", balance)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) List(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}
