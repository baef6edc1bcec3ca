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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taphouse/internal/pkg/logger"
	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
	"taphouse/internal/service/order/domain/port"
)

// AllocateOrderResultTopic 是库存服务回复的入站主题。
const AllocateOrderResultTopic = "allocate-order-result-topic"

// AllocationResultConsumer 监听配货回复，
// 按归一化后的结果把消息分发给协调者的三个入口之一。
type AllocationResultConsumer struct {
	reader  *kafka.Reader
	manager OrderManager
	deduper port.ReplyDeduplicator

	processingTimeout time.Duration

	failureHandler *mq.FailureHandler
	wg             sync.WaitGroup
	stopped        atomic.Bool
}

func NewAllocationResultConsumer(reader *kafka.Reader, manager OrderManager, deduper port.ReplyDeduplicator, failureHandler *mq.FailureHandler, processingTimeout time.Duration) *AllocationResultConsumer {
	return &AllocationResultConsumer{
		reader:            reader,
		manager:           manager,
		deduper:           deduper,
		failureHandler:    failureHandler,
		processingTimeout: processingTimeout,
	}
}

// Start 开始监听回复主题。这是一个长期运行的方法。
func (c *AllocationResultConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", c.reader.Config().Topic).Msg("✅ Allocation result consumer started.")
		for {
			if c.stopped.Load() {
				return
			}
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || c.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("🛑 Allocation result consumer shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read allocation result, retrying")
				time.Sleep(time.Second)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			if err := c.processMessage(msgCtx, msg); err != nil {
				c.failureHandler.Handle(msgCtx, msg, err)
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit allocation result offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (c *AllocationResultConsumer) Stop(ctx context.Context) {
	c.stopped.Store(true)
	c.reader.Close()
	c.wg.Wait()
	logger.Ctx(ctx).Info().Msg("✅ Allocation result consumer stopped.")
}

func (c *AllocationResultConsumer) processMessage(parentCtx context.Context, msg kafka.Message) error {
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(parentCtx, "listener.AllocationResult", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.processingTimeout)
	defer cancel()

	var result domain.AllocateOrderResult
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		return fmt.Errorf("unmarshal allocation result: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", result.OrderID.String()))

	key := "allocation:" + result.OrderID.String()
	if !firstDelivery(ctx, c.deduper, key) {
		logger.Ctx(ctx).Info().Str("order_id", result.OrderID.String()).Msg("Duplicate allocation result skipped")
		return nil
	}

	err := withNotFoundRetry(ctx, func(ctx context.Context) error {
		return dispatchAllocationResult(ctx, c.manager, &result)
	})
	if err != nil {
		// 归还去重键，死信重放必须能再次到达协调者
		releaseClaim(context.WithoutCancel(ctx), c.deduper, key)
		return err
	}
	return nil
}

// dispatchAllocationResult 把回复映射为协调者的恰好一次调用。
func dispatchAllocationResult(ctx context.Context, manager OrderManager, result *domain.AllocateOrderResult) error {
	switch result.Outcome() {
	case domain.AllocationFailed:
		return manager.BeerOrderAllocationFailed(ctx, result)
	case domain.AllocationPendingInventory:
		return manager.BeerOrderAllocationPendingInventory(ctx, result)
	default:
		return manager.BeerOrderAllocationPassed(ctx, result)
	}
}
