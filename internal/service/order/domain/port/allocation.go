package port

import (
	"context"

	"taphouse/internal/service/order/domain"
)

// AllocationRequestProducer 是库存服务的出站端口。
type AllocationRequestProducer interface {
	// RequestAllocation 发送一条配货请求。
	RequestAllocation(ctx context.Context, order domain.BeerOrderSnapshot) error

	// RequestDeallocation 是配货的补偿操作：释放已预占的库存。
	// fire-and-forget，本服务不消费它的回复。
	RequestDeallocation(ctx context.Context, order domain.BeerOrderSnapshot) error
}
