package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：同一账户的两条事件被不同实例的消费者同时处理
//
// 数据库行锁只能在单条 SQL 事务内串行化，两个实例会在各自的事务里
// 排队等行锁，持锁时间被拉长。先在 Redis 层按账户排队，进入数据库
// 事务的永远只有一个提交者，行锁只是最后一道兜底。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者令牌（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者令牌
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
// 先验证 value 是自己的令牌再删除，避免锁过期后删掉下一个持有者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：按账户维度的落账锁
// ============================================================================

// NewAccountLock 创建账户锁
//
// 锁粒度按账户划分：不同账户的落账完全并发，同一账户串行 ——
// 这正是账本需要的排他范围。token 必须每次获取时唯一生成
// （见 pkg/idgen），同一幂等键的并发投递如果共用令牌，
// 先完成的一方会释放掉后来者正持有的锁。
func NewAccountLock(client *redis.Client, accountID int64, token string) *DistributedLock {
	key := fmt.Sprintf("ledger:lock:account:%d", accountID)
	return NewDistributedLock(client, key, token, 30*time.Second)
}
