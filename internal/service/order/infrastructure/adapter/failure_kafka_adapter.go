package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
)

// OrderFailureTopic 是订单失败通知的出站主题。
const OrderFailureTopic = "beer-order-failure-topic"

// FailureKafkaAdapter 实现了 port.FailureNotifier 接口。
type FailureKafkaAdapter struct {
	writer *kafka.Writer
}

func NewFailureKafkaAdapter(brokers []string) *FailureKafkaAdapter {
	return &FailureKafkaAdapter{
		writer: mq.NewKafkaWriter(brokers, OrderFailureTopic),
	}
}

func (a *FailureKafkaAdapter) NotifyOrderFailed(ctx context.Context, orderID uuid.UUID, reason string) error {
	payload, err := json.Marshal(domain.OrderFailureEvent{OrderID: orderID, Reason: reason})
	if err != nil {
		return fmt.Errorf("marshal order failure event: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(orderID.String()), payload)
}

// Close 关闭底层的 Kafka writer。
func (a *FailureKafkaAdapter) Close() error {
	return a.writer.Close()
}
