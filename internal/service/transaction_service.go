package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"txnledger/internal/config"
	"txnledger/internal/model"
	"txnledger/internal/store"

	"github.com/shopspring/decimal"
)

var ErrInvalidEventData = errors.New("事件数据不合法")

// IsPermanent 判断错误是否为永久失败
//
// 永久失败：同一条事件重投多少次都会以同样方式失败（账户不存在、
// 数据不合法、余额不足），应当进死信而不是重投。
// 其余一律视为瞬时失败（数据库/Redis 不可用等），交给重投机制。
func IsPermanent(err error) bool {
	return errors.Is(err, store.ErrAccountNotFound) ||
		errors.Is(err, store.ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidEventData)
}

// ApplyResult 单次事件处理结果
// Duplicate=true 表示幂等命中：不是错误，什么都没发生
type ApplyResult struct {
	Transaction *model.Transaction
	Duplicate   bool
}

// ============================================================================
// 交易处理（核心编排）
// ============================================================================
//
// 一条事件进来，结果三选一：落账成功 / 幂等空操作 / 带类型的失败。
//
// 【处理顺序】
//   幂等预检 -> 账户查找 -> 类型金额校验 -> 充足性预检
//   -> 激励计算 -> 净变动 -> 原子落账
//
// 【关键点】激励计算在任何锁之前完成。外部激励服务的延迟不可控，
// 绝不能让账户锁的持有时间跟着外部调用一起变长。预检读的余额可能
// 已经过期，落账时会在排他范围内用最新余额复核。
type TransactionService struct {
	store            store.LedgerStore
	incentiveService *IncentiveService
	cfg              *config.Config
}

func NewTransactionService(ledgerStore store.LedgerStore, incentiveService *IncentiveService, cfg *config.Config) *TransactionService {
	return &TransactionService{
		store:            ledgerStore,
		incentiveService: incentiveService,
		cfg:              cfg,
	}
}

// Apply 处理一条交易事件
func (s *TransactionService) Apply(ctx context.Context, msg *model.TransactionMessage) (*ApplyResult, error) {
	if msg.TransactionID == "" {
		return nil, fmt.Errorf("%w: transactionId 为空", ErrInvalidEventData)
	}

	// 1. 幂等预检：已处理过的事件直接空操作返回
	exists, err := s.store.ExistsByExternalID(ctx, msg.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("幂等预检失败: %w", err)
	}
	if exists {
		log.Printf("[Transaction] 重复事件，跳过: externalID=%s", msg.TransactionID)
		return &ApplyResult{Duplicate: true}, nil
	}

	// 2. 账户查找
	account, err := s.store.GetAccount(ctx, msg.AccountID)
	if err != nil {
		return nil, err
	}

	// 3. 类型与金额校验（格式错误重投也救不回来，归为永久失败）
	txnType, amount, err := validateMessage(msg)
	if err != nil {
		return nil, err
	}

	// 4. 充足性预检（仅 DEBIT）：不加锁的快速失败，
	//    权威判定在落账时的排他范围内再做一次
	if txnType == model.TransactionTypeDebit && account.Balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: 当前 %s, 需要 %s",
			store.ErrInsufficientBalance, account.Balance, amount)
	}

	// 5. 激励计算：永不失败，内部自行降级
	incentive := s.incentiveService.Calculate(ctx, msg.AccountID, amount, txnType)

	// 6. 净变动：CREDIT 为 +amount，DEBIT 为 -amount；激励恒为加项
	delta := amount
	if txnType == model.TransactionTypeDebit {
		delta = delta.Neg()
	}
	if incentive.Applied {
		delta = delta.Add(incentive.Amount)
		log.Printf("[Transaction] 命中激励: externalID=%s, amount=%s, type=%s",
			msg.TransactionID, incentive.Amount, incentive.Type)
	}

	txn := &model.Transaction{
		ExternalID:       msg.TransactionID,
		AccountID:        msg.AccountID,
		Type:             txnType,
		Amount:           amount,
		Description:      msg.Description,
		IncentiveApplied: incentive.Applied,
		IncentiveAmount:  incentive.Amount,
		Status:           model.TransactionStatusCompleted,
	}

	outbox, err := s.buildOutboxMessage(txn, account.Balance.Add(delta))
	if err != nil {
		return nil, fmt.Errorf("构造事件失败: %w", err)
	}

	// 7. 原子落账。唯一索引兜住步骤 1 到这里之间溜进来的并发同键投递，
	//    冲突按幂等命中处理，不算错误
	if err := s.store.Commit(ctx, txn, delta, outbox); err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			log.Printf("[Transaction] 并发重复投递，落账时被唯一约束拦截: externalID=%s", msg.TransactionID)
			return &ApplyResult{Duplicate: true}, nil
		}
		return nil, err
	}

	log.Printf("[Transaction] 落账成功: externalID=%s, accountID=%d, type=%s, amount=%s, delta=%s",
		msg.TransactionID, msg.AccountID, txnType, amount, delta)

	return &ApplyResult{Transaction: txn}, nil
}

// validateMessage 解析并校验事件的类型与金额
func validateMessage(msg *model.TransactionMessage) (string, decimal.Decimal, error) {
	var txnType string
	switch msg.Type {
	case model.TransactionTypeCredit, model.TransactionTypeDebit:
		txnType = msg.Type
	default:
		return "", decimal.Zero, fmt.Errorf("%w: 未知交易类型 %q", ErrInvalidEventData, msg.Type)
	}

	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("%w: 金额不可解析 %q", ErrInvalidEventData, msg.Amount)
	}
	if !amount.IsPositive() {
		return "", decimal.Zero, fmt.Errorf("%w: 金额必须为正数 %s", ErrInvalidEventData, amount)
	}

	return txnType, amount, nil
}

func (s *TransactionService) buildOutboxMessage(txn *model.Transaction, newBalance decimal.Decimal) (*model.OutboxMessage, error) {
	event := model.TransactionCompletedEvent{
		ExternalID:       txn.ExternalID,
		AccountID:        txn.AccountID,
		Type:             txn.Type,
		Amount:           txn.Amount,
		IncentiveApplied: txn.IncentiveApplied,
		IncentiveAmount:  txn.IncentiveAmount,
		Balance:          newBalance,
		CompletedAt:      time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &model.OutboxMessage{
		MessageKey: txn.ExternalID,
		Topic:      s.cfg.Kafka.Topic.TransactionCompleted,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}
