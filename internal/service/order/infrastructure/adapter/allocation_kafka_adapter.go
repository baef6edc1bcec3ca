package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
)

const (
	// AllocateOrderTopic 是配货请求的出站主题。
	AllocateOrderTopic = "allocate-order-topic"
	// DeallocateOrderTopic 是去配货补偿消息的出站主题，不消费回复。
	DeallocateOrderTopic = "deallocate-order-topic"
)

// AllocationKafkaAdapter 实现了 port.AllocationRequestProducer 接口。
// 配货与去配货走不同主题，各自持有一个 writer。
type AllocationKafkaAdapter struct {
	allocateWriter   *kafka.Writer
	deallocateWriter *kafka.Writer
}

func NewAllocationKafkaAdapter(brokers []string) *AllocationKafkaAdapter {
	return &AllocationKafkaAdapter{
		allocateWriter:   mq.NewKafkaWriter(brokers, AllocateOrderTopic),
		deallocateWriter: mq.NewKafkaWriter(brokers, DeallocateOrderTopic),
	}
}

func (a *AllocationKafkaAdapter) RequestAllocation(ctx context.Context, order domain.BeerOrderSnapshot) error {
	payload, err := json.Marshal(domain.AllocateOrderRequest{Order: order})
	if err != nil {
		return fmt.Errorf("marshal allocate order request: %w", err)
	}
	return mq.ProduceMessage(ctx, a.allocateWriter, []byte(order.ID.String()), payload)
}

// RequestDeallocation 发送补偿消息，释放取消订单时已预占的库存。
func (a *AllocationKafkaAdapter) RequestDeallocation(ctx context.Context, order domain.BeerOrderSnapshot) error {
	payload, err := json.Marshal(domain.DeallocateOrderRequest{Order: order})
	if err != nil {
		return fmt.Errorf("marshal deallocate order request: %w", err)
	}
	return mq.ProduceMessage(ctx, a.deallocateWriter, []byte(order.ID.String()), payload)
}

// Close 关闭底层的两个 Kafka writer。
func (a *AllocationKafkaAdapter) Close() error {
	if err := a.allocateWriter.Close(); err != nil {
		return err
	}
	return a.deallocateWriter.Close()
}
