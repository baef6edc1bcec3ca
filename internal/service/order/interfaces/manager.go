package interfaces

import (
	"context"

	"github.com/google/uuid"

	"taphouse/internal/service/order/domain"
)

// OrderManager 是接口层对协调者的依赖。
// 按消费方定义接口，便于在测试中用假实现替换应用服务。
type OrderManager interface {
	NewBeerOrder(ctx context.Context, order *domain.BeerOrder) (*domain.BeerOrder, error)
	ProcessValidationResult(ctx context.Context, orderID uuid.UUID, valid bool) error
	BeerOrderAllocationPassed(ctx context.Context, result *domain.AllocateOrderResult) error
	BeerOrderAllocationPendingInventory(ctx context.Context, result *domain.AllocateOrderResult) error
	BeerOrderAllocationFailed(ctx context.Context, result *domain.AllocateOrderResult) error
	PickUpBeerOrder(ctx context.Context, orderID uuid.UUID) error
	CancelBeerOrder(ctx context.Context, orderID uuid.UUID) error
	GetBeerOrder(ctx context.Context, orderID uuid.UUID) (*domain.BeerOrder, error)
}
