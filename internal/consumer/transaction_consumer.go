package consumer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"txnledger/internal/config"
	"txnledger/internal/infrastructure/mq"
	"txnledger/internal/model"
	"txnledger/internal/service"

	"github.com/IBM/sarama"
)

// TransactionApplier 消费侧只依赖这一个方法
type TransactionApplier interface {
	Apply(ctx context.Context, msg *model.TransactionMessage) (*service.ApplyResult, error)
}

// ============================================================================
// 交易事件消费
// ============================================================================
//
// 投递语义是 at-least-once，消费侧不做任何内部重试，只做结果分类：
//   - 成功 / 幂等命中       -> 标记位点
//   - 永久失败（含脏报文）   -> 转死信后标记位点，重投永远救不回来
//   - 瞬时失败             -> 不标记位点并中断会话，等 broker 重投
//
// 重投之所以安全，靠的是 Applier 的幂等屏障，不是这里的小心翼翼
type TransactionConsumer struct {
	applier TransactionApplier
	cfg     *config.Config

	// 死信投递函数，默认走 mq 包的生产者，测试时替换
	sendMessage func(topic, key, value string) error
}

func NewTransactionConsumer(applier TransactionApplier, cfg *config.Config) *TransactionConsumer {
	return &TransactionConsumer{
		applier:     applier,
		cfg:         cfg,
		sendMessage: mq.SendMessage,
	}
}

// Start 加入消费者组并阻塞消费，直到 ctx 取消
func (c *TransactionConsumer) Start(ctx context.Context, group sarama.ConsumerGroup) {
	log.Printf("[Consumer] 交易事件消费启动: topic=%s", c.cfg.Kafka.Topic.Transactions)

	go func() {
		for err := range group.Errors() {
			log.Printf("[Consumer] 消费者组错误: %v", err)
		}
	}()

	for {
		// Consume 在 rebalance 或会话中断后返回，循环重新加入
		if err := group.Consume(ctx, []string{c.cfg.Kafka.Topic.Transactions}, c); err != nil {
			log.Printf("[Consumer] 消费会话中断: %v", err)
		}
		if ctx.Err() != nil {
			log.Println("[Consumer] 收到停止信号，消费退出")
			return
		}
	}
}

func (c *TransactionConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *TransactionConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 逐条处理分区消息
func (c *TransactionConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		log.Printf("[Consumer] 收到消息: topic=%s, partition=%d, offset=%d",
			message.Topic, message.Partition, message.Offset)

		var msg model.TransactionMessage
		if err := json.Unmarshal(message.Value, &msg); err != nil {
			log.Printf("[Consumer] 报文不可解析，转死信: offset=%d, err=%v", message.Offset, err)
			c.sendToDeadLetter(message.Value, string(message.Key), err)
			session.MarkMessage(message, "")
			continue
		}

		result, err := c.applier.Apply(session.Context(), &msg)
		if err == nil {
			if result.Duplicate {
				log.Printf("[Consumer] 幂等命中: externalID=%s", msg.TransactionID)
			} else {
				log.Printf("[Consumer] 处理成功: externalID=%s", msg.TransactionID)
			}
			session.MarkMessage(message, "")
			continue
		}

		if service.IsPermanent(err) {
			log.Printf("[Consumer] 永久失败，转死信: externalID=%s, err=%v", msg.TransactionID, err)
			c.sendToDeadLetter(message.Value, msg.TransactionID, err)
			session.MarkMessage(message, "")
			continue
		}

		// 瞬时失败：不标记位点，中断本次会话触发重投
		log.Printf("[Consumer] 瞬时失败，等待重投: externalID=%s, err=%v", msg.TransactionID, err)
		return err
	}
	return nil
}

// deadLetterEnvelope 死信报文：原始载荷 + 失败原因
// 载荷按字符串透传，脏报文（本身不是合法 JSON）也要能进死信
type deadLetterEnvelope struct {
	Payload  string    `json:"payload"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

func (c *TransactionConsumer) sendToDeadLetter(payload []byte, key string, cause error) {
	envelope, err := json.Marshal(deadLetterEnvelope{
		Payload:  string(payload),
		Reason:   cause.Error(),
		FailedAt: time.Now(),
	})
	if err != nil {
		log.Printf("[Consumer] 死信报文构造失败: %v", err)
		return
	}

	if err := c.sendMessage(c.cfg.Kafka.Topic.TransactionsDLQ, key, string(envelope)); err != nil {
		// 死信发送失败只记日志：事件本身已判定为永久失败，
		// 阻塞分区换不回任何东西
		log.Printf("[Consumer] 死信发送失败: key=%s, err=%v", key, err)
	}
}
