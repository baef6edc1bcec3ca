package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
)

// ValidateOrderTopic 是校验请求的出站主题。
const ValidateOrderTopic = "validate-order-topic"

// ValidationKafkaAdapter 实现了 port.ValidationRequestProducer 接口。
type ValidationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewValidationKafkaAdapter(brokers []string) *ValidationKafkaAdapter {
	return &ValidationKafkaAdapter{
		writer: mq.NewKafkaWriter(brokers, ValidateOrderTopic),
	}
}

// RequestValidation 发送携带订单快照的校验请求。
// 消息 Key 是订单 ID，保证同一订单的消息有序。
func (a *ValidationKafkaAdapter) RequestValidation(ctx context.Context, order domain.BeerOrderSnapshot) error {
	payload, err := json.Marshal(domain.ValidateOrderRequest{Order: order})
	if err != nil {
		return fmt.Errorf("marshal validate order request: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(order.ID.String()), payload)
}

// Close 关闭底层的 Kafka writer。
func (a *ValidationKafkaAdapter) Close() error {
	return a.writer.Close()
}
