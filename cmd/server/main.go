package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txnledger/internal/config"
	"txnledger/internal/consumer"
	"txnledger/internal/handler"
	"txnledger/internal/infrastructure/cache"
	"txnledger/internal/infrastructure/database"
	"txnledger/internal/infrastructure/mq"
	"txnledger/internal/job"
	"txnledger/internal/service"
	"txnledger/internal/store/mysql"
	"txnledger/pkg/idgen"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器（锁令牌）
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka 生产者（死信 + outbox 投递）
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 组装依赖：存储 -> 服务 -> 消费者/接口，全部显式构造传递
	ledgerStore := mysql.NewStore(db, redisClient)
	incentiveService := service.NewIncentiveService(&cfg.Incentive)
	transactionService := service.NewTransactionService(ledgerStore, incentiveService, cfg)
	accountService := service.NewAccountService(ledgerStore)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动交易事件消费
	consumerGroup := mq.NewConsumerGroup(&cfg.Kafka)
	defer consumerGroup.Close()

	transactionConsumer := consumer.NewTransactionConsumer(transactionService, cfg)
	go transactionConsumer.Start(ctx, consumerGroup)

	// 启动 outbox 投递任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(accountService)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止消费和后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
