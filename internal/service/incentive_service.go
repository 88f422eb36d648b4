package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"txnledger/internal/config"
	"txnledger/internal/model"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 激励计算
// ============================================================================
//
// 对调用方而言 Calculate 是全函数：永远返回一个结果，永远不返回错误。
// 外部激励服务的任何异常（超时、非 2xx、响应不可解析、字段不可用）
// 都在这一层吸收，静默降级到本地确定性规则 ——
// 交易处理的可用性优先于激励来源的精确性。

// IncentiveOutcome 单次激励计算结果，由 Applier 消费一次，不单独持久化
type IncentiveOutcome struct {
	Amount  decimal.Decimal
	Type    string // NONE / PERCENTAGE
	Applied bool
}

// incentiveRequest 外部激励服务请求体（字段名与上游约定一致）
type incentiveRequest struct {
	AccountID         int64           `json:"accountId"`
	TransactionAmount decimal.Decimal `json:"transactionAmount"`
	TransactionType   string          `json:"transactionType"`
}

// incentiveResponse 外部激励服务响应体
type incentiveResponse struct {
	IncentiveAmount *decimal.Decimal `json:"incentiveAmount"`
	IncentiveType   string           `json:"incentiveType"`
	Applied         *bool            `json:"applied"`
}

type IncentiveService struct {
	enabled    bool
	url        string
	httpClient *http.Client
}

func NewIncentiveService(cfg *config.IncentiveConfig) *IncentiveService {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &IncentiveService{
		enabled: cfg.Enabled,
		url:     cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout, // 外部调用必须有界，超时视为失败走降级
		},
	}
}

// Calculate 计算本次交易的激励
func (s *IncentiveService) Calculate(ctx context.Context, accountID int64, amount decimal.Decimal, txnType string) IncentiveOutcome {
	if !s.enabled {
		return s.calculateDefault(amount, txnType)
	}

	outcome, err := s.callIncentiveAPI(ctx, accountID, amount, txnType)
	if err != nil {
		log.Printf("[Incentive] 外部激励服务调用失败，降级本地规则: %v", err)
		return s.calculateDefault(amount, txnType)
	}
	return outcome
}

func (s *IncentiveService) callIncentiveAPI(ctx context.Context, accountID int64, amount decimal.Decimal, txnType string) (IncentiveOutcome, error) {
	body, err := json.Marshal(incentiveRequest{
		AccountID:         accountID,
		TransactionAmount: amount,
		TransactionType:   txnType,
	})
	if err != nil {
		return IncentiveOutcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return IncentiveOutcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return IncentiveOutcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return IncentiveOutcome{}, fmt.Errorf("激励服务返回状态码 %d", resp.StatusCode)
	}

	var apiResp incentiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return IncentiveOutcome{}, fmt.Errorf("激励服务响应不可解析: %w", err)
	}

	// 响应字段不完整或金额非法也算失败，不能让半截结果进入落账
	if apiResp.Applied == nil || apiResp.IncentiveAmount == nil {
		return IncentiveOutcome{}, fmt.Errorf("激励服务响应字段缺失")
	}
	if apiResp.IncentiveAmount.IsNegative() {
		return IncentiveOutcome{}, fmt.Errorf("激励服务返回负金额: %s", apiResp.IncentiveAmount)
	}

	incentiveType := apiResp.IncentiveType
	if incentiveType == "" {
		incentiveType = model.IncentiveTypeNone
	}

	return IncentiveOutcome{
		Amount:  *apiResp.IncentiveAmount,
		Type:    incentiveType,
		Applied: *apiResp.Applied,
	}, nil
}

var (
	incentiveThreshold = decimal.NewFromInt(100)
	incentiveRate      = decimal.RequireFromString("0.01")
)

// calculateDefault 本地确定性规则：CREDIT 且金额大于 100 时返 1%，
// 四舍五入保留两位；DEBIT 永远不命中
func (s *IncentiveService) calculateDefault(amount decimal.Decimal, txnType string) IncentiveOutcome {
	if txnType == model.TransactionTypeCredit && amount.GreaterThan(incentiveThreshold) {
		// decimal.Round 对正数即 HALF_UP
		return IncentiveOutcome{
			Amount:  amount.Mul(incentiveRate).Round(2),
			Type:    model.IncentiveTypePercentage,
			Applied: true,
		}
	}

	return IncentiveOutcome{
		Amount:  decimal.Zero,
		Type:    model.IncentiveTypeNone,
		Applied: false,
	}
}
