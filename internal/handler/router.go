package handler

import (
	"txnledger/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(accountService *service.AccountService) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(accountService)

	// API 路由组
	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.POST("/create", h.CreateAccount)
			account.GET("/balance", h.GetBalance)
			account.GET("/list", h.ListAccounts)
		}

		transaction := api.Group("/transaction")
		{
			transaction.GET("/list", h.ListTransactions)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
