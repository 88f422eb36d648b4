package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"txnledger/internal/config"
	"txnledger/internal/model"
	"txnledger/internal/store"
	"txnledger/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ============================================================
// 测试脚手架
// ============================================================

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				Transactions:         "transactions",
				TransactionCompleted: "transaction.completed",
				TransactionsDLQ:      "transactions.dlq",
			},
		},
	}
}

func newTestService(t *testing.T) (*TransactionService, *memory.Store) {
	st := memory.NewStore()
	svc := NewTransactionService(st, newDisabledIncentive(), newTestConfig())
	return svc, st
}

func mustCreateAccount(t *testing.T, st *memory.Store, balance string) *model.Account {
	t.Helper()
	account := &model.Account{
		Username: fmt.Sprintf("user-%d", len(mustListAccounts(t, st))+1),
		Email:    fmt.Sprintf("user-%d@example.com", len(mustListAccounts(t, st))+1),
		Balance:  decimal.RequireFromString(balance),
	}
	require.NoError(t, st.CreateAccount(context.Background(), account))
	return account
}

func mustListAccounts(t *testing.T, st *memory.Store) []*model.Account {
	t.Helper()
	accounts, err := st.ListAccounts(context.Background())
	require.NoError(t, err)
	return accounts
}

func mustBalance(t *testing.T, st *memory.Store, accountID int64) decimal.Decimal {
	t.Helper()
	account, err := st.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func creditEvent(externalID string, accountID int64, amount string) *model.TransactionMessage {
	return &model.TransactionMessage{
		TransactionID: externalID,
		AccountID:     accountID,
		Type:          model.TransactionTypeCredit,
		Amount:        amount,
	}
}

func debitEvent(externalID string, accountID int64, amount string) *model.TransactionMessage {
	return &model.TransactionMessage{
		TransactionID: externalID,
		AccountID:     accountID,
		Type:          model.TransactionTypeDebit,
		Amount:        amount,
	}
}

// ============================================================
// 基本路径
// ============================================================

func TestApply_CreditWithIncentive(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "1000.00")

	result, err := svc.Apply(context.Background(), creditEvent("txn-123", account.ID, "150.00"))
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.NotNil(t, result.Transaction)

	txn := result.Transaction
	require.Equal(t, "txn-123", txn.ExternalID)
	require.Equal(t, model.TransactionStatusCompleted, txn.Status)
	require.True(t, txn.IncentiveApplied)
	require.True(t, decimal.RequireFromString("1.50").Equal(txn.IncentiveAmount))

	// 1000 + 150 + 1.50
	require.True(t, decimal.RequireFromString("1151.50").Equal(mustBalance(t, st, account.ID)))
}

func TestApply_SmallCreditNoIncentive(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "100.00")

	result, err := svc.Apply(context.Background(), creditEvent("txn-1", account.ID, "50.00"))
	require.NoError(t, err)
	require.False(t, result.Transaction.IncentiveApplied)
	require.True(t, result.Transaction.IncentiveAmount.IsZero())
	require.True(t, decimal.RequireFromString("150.00").Equal(mustBalance(t, st, account.ID)))
}

func TestApply_DebitSufficient(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "1000.00")

	result, err := svc.Apply(context.Background(), debitEvent("txn-2", account.ID, "200.00"))
	require.NoError(t, err)
	require.False(t, result.Transaction.IncentiveApplied)
	require.True(t, decimal.RequireFromString("800.00").Equal(mustBalance(t, st, account.ID)))
}

func TestApply_DebitInsufficient(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "50.00")

	_, err := svc.Apply(context.Background(), debitEvent("txn-3", account.ID, "100.00"))
	require.ErrorIs(t, err, store.ErrInsufficientBalance)
	require.True(t, IsPermanent(err))

	// 拒绝的交易不留任何痕迹
	require.True(t, decimal.RequireFromString("50.00").Equal(mustBalance(t, st, account.ID)))
	txns, total, listErr := st.FindByAccount(context.Background(), account.ID, 1, 10)
	require.NoError(t, listErr)
	require.Zero(t, total)
	require.Empty(t, txns)
}

func TestApply_AccountNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Apply(context.Background(), creditEvent("txn-4", 999, "10.00"))
	require.ErrorIs(t, err, store.ErrAccountNotFound)
	require.True(t, IsPermanent(err))
}

func TestApply_InvalidEventData(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "100.00")

	tests := []struct {
		name string
		msg  *model.TransactionMessage
	}{
		{"未知类型", &model.TransactionMessage{TransactionID: "t1", AccountID: account.ID, Type: "TRANSFER", Amount: "10.00"}},
		{"金额不可解析", &model.TransactionMessage{TransactionID: "t2", AccountID: account.ID, Type: "CREDIT", Amount: "abc"}},
		{"金额为零", &model.TransactionMessage{TransactionID: "t3", AccountID: account.ID, Type: "CREDIT", Amount: "0"}},
		{"金额为负", &model.TransactionMessage{TransactionID: "t4", AccountID: account.ID, Type: "DEBIT", Amount: "-5.00"}},
		{"幂等键为空", &model.TransactionMessage{TransactionID: "", AccountID: account.ID, Type: "CREDIT", Amount: "10.00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(context.Background(), tt.msg)
			require.ErrorIs(t, err, ErrInvalidEventData)
			require.True(t, IsPermanent(err))
		})
	}

	// 全部拒绝，余额分文未动
	require.True(t, decimal.RequireFromString("100.00").Equal(mustBalance(t, st, account.ID)))
}

// ============================================================
// 幂等
// ============================================================

func TestApply_DuplicateReplay(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "1000.00")

	first, err := svc.Apply(context.Background(), creditEvent("txn-123", account.ID, "150.00"))
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.True(t, decimal.RequireFromString("1151.50").Equal(mustBalance(t, st, account.ID)))

	// 原样重投：空操作，不新增流水，余额不变
	second, err := svc.Apply(context.Background(), creditEvent("txn-123", account.ID, "150.00"))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Nil(t, second.Transaction)

	require.True(t, decimal.RequireFromString("1151.50").Equal(mustBalance(t, st, account.ID)))
	_, total, err := st.FindByAccount(context.Background(), account.ID, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestApply_ConcurrentSameEvent(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "1000.00")

	const workers = 20
	var wg sync.WaitGroup
	results := make([]*ApplyResult, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = svc.Apply(context.Background(), creditEvent("txn-race", account.ID, "150.00"))
		}(i)
	}
	wg.Wait()

	committed := 0
	duplicates := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Duplicate {
			duplicates++
		} else {
			committed++
		}
	}

	// 恰好一次落账，其余全部幂等命中
	require.Equal(t, 1, committed)
	require.Equal(t, workers-1, duplicates)
	require.True(t, decimal.RequireFromString("1151.50").Equal(mustBalance(t, st, account.ID)))

	_, total, err := st.FindByAccount(context.Background(), account.ID, 1, 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

// ============================================================
// 并发出账
// ============================================================

func TestApply_ConcurrentDebits(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "500.00")

	const workers = 100
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = svc.Apply(context.Background(), debitEvent(fmt.Sprintf("debit-%d", n), account.ID, "10.00"))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	insufficient := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, store.ErrInsufficientBalance)
		insufficient++
	}

	// 500 / 10 = 50 笔成功，其余全部余额不足，余额精确清零且从未为负
	require.Equal(t, 50, succeeded)
	require.Equal(t, 50, insufficient)
	require.Equal(t, workers, succeeded+insufficient)

	balance := mustBalance(t, st, account.ID)
	require.True(t, balance.IsZero(), "期望余额为 0，实际 %s", balance)
	require.False(t, balance.IsNegative())
}

// ============================================================
// outbox 事件
// ============================================================

func TestApply_WritesOutboxEvent(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "1000.00")

	_, err := svc.Apply(context.Background(), creditEvent("txn-out", account.ID, "150.00"))
	require.NoError(t, err)

	outbox := st.PendingOutbox()
	require.Len(t, outbox, 1)
	require.Equal(t, "txn-out", outbox[0].MessageKey)
	require.Equal(t, "transaction.completed", outbox[0].Topic)
	require.Equal(t, model.OutboxStatusPending, outbox[0].Status)
	require.Contains(t, outbox[0].Payload, `"external_id":"txn-out"`)
}

func TestApply_RejectedEventWritesNoOutbox(t *testing.T) {
	svc, st := newTestService(t)
	account := mustCreateAccount(t, st, "10.00")

	_, err := svc.Apply(context.Background(), debitEvent("txn-rej", account.ID, "100.00"))
	require.ErrorIs(t, err, store.ErrInsufficientBalance)
	require.Empty(t, st.PendingOutbox())
}

// ============================================================
// 错误分类
// ============================================================

func TestIsPermanent(t *testing.T) {
	require.True(t, IsPermanent(store.ErrAccountNotFound))
	require.True(t, IsPermanent(store.ErrInsufficientBalance))
	require.True(t, IsPermanent(ErrInvalidEventData))
	require.True(t, IsPermanent(fmt.Errorf("包装后依然可识别: %w", store.ErrAccountNotFound)))

	require.False(t, IsPermanent(fmt.Errorf("数据库连接失败")))
	require.False(t, IsPermanent(store.ErrDuplicateTransaction)) // 重复键在 Apply 内部消化，不会外泄
}
