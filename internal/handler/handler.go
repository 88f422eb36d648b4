package handler

import (
	"errors"
	"strconv"

	"txnledger/internal/service"
	"txnledger/internal/store"
	"txnledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器
// 只暴露查询和开户：余额的一切变动都由 Kafka 事件经 Applier 落账，
// HTTP 层永远是账本状态的只读投影 + 开户入口
type Handler struct {
	accountService *service.AccountService
}

// NewHandler 创建处理器实例
func NewHandler(accountService *service.AccountService) *Handler {
	return &Handler{
		accountService: accountService,
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// CreateAccount 开户
// POST /api/v1/account/create
func (h *Handler) CreateAccount(c *gin.Context) {
	var req service.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.CreateAccount(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateAccount) {
			response.BusinessError(c, response.CodeDuplicateAccount, "账户已存在")
			return
		}
		if errors.Is(err, service.ErrInvalidEventData) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"id":       account.ID,
		"username": account.Username,
		"email":    account.Email,
		"balance":  account.Balance,
	})
}

// GetBalance 查询账户余额
// GET /api/v1/account/balance?account_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Query("account_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "account_id 参数错误")
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			response.BusinessError(c, response.CodeAccountNotFound, "账户不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"account_id": account.ID,
		"username":   account.Username,
		"email":      account.Email,
		"balance":    account.Balance,
	})
}

// ListAccounts 账户列表
// GET /api/v1/account/list
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountService.ListAccounts(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":  accounts,
		"total": len(accounts),
	})
}

// ============================================================
// 流水相关接口
// ============================================================

// ListTransactions 查询账户流水
// GET /api/v1/transaction/list?account_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Query("account_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "account_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.accountService.ListTransactions(c.Request.Context(), accountID, page, pageSize)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			response.BusinessError(c, response.CodeAccountNotFound, "账户不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
