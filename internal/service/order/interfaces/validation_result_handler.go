package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"taphouse/internal/pkg/logger"
	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
	"taphouse/internal/service/order/domain/port"
)

// ValidateOrderResultTopic 是校验服务回复的入站主题。
const ValidateOrderResultTopic = "validate-order-result-topic"

// ValidationResultConsumer 是一个驱动适配器：
// 监听校验回复并把它翻译成对协调者的一次调用。
type ValidationResultConsumer struct {
	reader  *kafka.Reader
	manager OrderManager
	deduper port.ReplyDeduplicator

	// 单条回复处理的超时上限，防止对账轮询把分区卡死
	processingTimeout time.Duration

	failureHandler *mq.FailureHandler
	wg             sync.WaitGroup
	stopped        atomic.Bool
}

func NewValidationResultConsumer(reader *kafka.Reader, manager OrderManager, deduper port.ReplyDeduplicator, failureHandler *mq.FailureHandler, processingTimeout time.Duration) *ValidationResultConsumer {
	return &ValidationResultConsumer{
		reader:            reader,
		manager:           manager,
		deduper:           deduper,
		failureHandler:    failureHandler,
		processingTimeout: processingTimeout,
	}
}

// Start 开始监听回复主题。这是一个长期运行的方法。
func (c *ValidationResultConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("✅ Validation result consumer started.")
		for {
			if c.stopped.Load() {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage，以便手动控制 Offset 提交
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || c.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("🛑 Validation result consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read validation result, retrying")
				time.Sleep(time.Second) // 避免快速失败循环
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if err := c.processMessage(msgCtx, msg); err != nil {
				// 处理失败的消息移交死信，不阻塞后续消费
				c.failureHandler.Handle(msgCtx, msg, err)
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit validation result offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *ValidationResultConsumer) Stop(ctx context.Context) {
	c.stopped.Store(true)
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Validation result consumer stopped.")
}

func (c *ValidationResultConsumer) processMessage(parentCtx context.Context, msg kafka.Message) error {
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(parentCtx, "listener.ValidationResult", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.processingTimeout)
	defer cancel()

	var result domain.ValidateOrderResult
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		return fmt.Errorf("unmarshal validation result: %w", err)
	}

	key := "validation:" + result.OrderID.String()
	if !firstDelivery(ctx, c.deduper, key) {
		logger.Ctx(ctx).Info().Str("order_id", result.OrderID.String()).Msg("Duplicate validation result skipped")
		return nil
	}

	err := withNotFoundRetry(ctx, func(ctx context.Context) error {
		return c.manager.ProcessValidationResult(ctx, result.OrderID, result.Valid)
	})
	if err != nil {
		// 这条回复没有被处理成功，归还去重键：
		// 死信重放或重投必须能再次到达协调者，不能被当作重复吞掉。
		// 归还动作不能跟着已超时的处理 ctx 一起失效
		releaseClaim(context.WithoutCancel(ctx), c.deduper, key)
		return err
	}
	return nil
}

// firstDelivery 抢占去重键。去重不可用时放行消息：
// 状态机对未定义迁移的拒绝仍然兜底，不能因为 Redis 故障丢回复。
func firstDelivery(ctx context.Context, deduper port.ReplyDeduplicator, key string) bool {
	first, err := deduper.FirstDelivery(ctx, key)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Reply dedup unavailable, processing anyway")
		return true
	}
	return first
}

// releaseClaim 尽力归还去重键。归还失败只能记录：
// 最坏情况是这条回复在 TTL 内被当作重复，与引入去重前的行为一致。
func releaseClaim(ctx context.Context, deduper port.ReplyDeduplicator, key string) {
	if err := deduper.Release(ctx, key); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to release dedup key after processing failure")
	}
}
