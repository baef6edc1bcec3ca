package application

import (
	"context"

	"taphouse/internal/pkg/statemachine"
	"taphouse/internal/service/order/domain"
)

// buildMachine 按当前订单重建一个一次性的状态机实例。
// 没有常驻的 per-order 状态机：每次调用都从持久化状态出发，
// 水平扩容时多个实例之间不需要任何协调，并发冲突交给仓储的版本检查。
//
// 拦截器负责持久化：副作用（发消息）永远在状态写入成功之后才执行。
func (m *BeerOrderManager) buildMachine(order *domain.BeerOrder) *statemachine.Machine[domain.OrderStatus, domain.OrderEvent] {
	sm := statemachine.New[domain.OrderStatus, domain.OrderEvent]()

	sm.OnTransition(func(ctx context.Context, from domain.OrderStatus, event domain.OrderEvent, to domain.OrderStatus) error {
		order.Status = to
		if err := m.repo.Save(ctx, order); err != nil {
			order.Status = from
			return err
		}
		return nil
	})

	sm.Permit(domain.StatusNew, domain.EventValidateOrder, domain.StatusValidationPending, m.emitValidationRequest(order)).
		Permit(domain.StatusValidationPending, domain.EventValidationPassed, domain.StatusValidated).
		Permit(domain.StatusValidationPending, domain.EventValidationFailed, domain.StatusValidationException, m.emitFailure(order, "validation failed")).
		Permit(domain.StatusValidationPending, domain.EventCancelOrder, domain.StatusCancelled).
		Permit(domain.StatusValidated, domain.EventAllocateOrder, domain.StatusAllocationPending, m.emitAllocationRequest(order)).
		Permit(domain.StatusAllocationPending, domain.EventAllocationSuccess, domain.StatusAllocated).
		Permit(domain.StatusAllocationPending, domain.EventAllocationNoInventory, domain.StatusPendingInventory).
		Permit(domain.StatusAllocationPending, domain.EventAllocationFailed, domain.StatusAllocationException, m.emitFailure(order, "allocation failed")).
		Permit(domain.StatusAllocationPending, domain.EventCancelOrder, domain.StatusCancelled).
		Permit(domain.StatusPendingInventory, domain.EventCancelOrder, domain.StatusCancelled).
		Permit(domain.StatusAllocated, domain.EventPickedUp, domain.StatusPickedUp).
		// 从 ALLOCATED 取消是唯一需要补偿的迁移：库存已经预占，必须释放
		Permit(domain.StatusAllocated, domain.EventCancelOrder, domain.StatusCancelled, m.emitDeallocationRequest(order))

	return sm
}

func (m *BeerOrderManager) emitValidationRequest(order *domain.BeerOrder) statemachine.Action[domain.OrderStatus, domain.OrderEvent] {
	return func(ctx context.Context, _ domain.OrderStatus, _ domain.OrderEvent, _ domain.OrderStatus) error {
		return m.validationProducer.RequestValidation(ctx, domain.SnapshotOf(order))
	}
}

func (m *BeerOrderManager) emitAllocationRequest(order *domain.BeerOrder) statemachine.Action[domain.OrderStatus, domain.OrderEvent] {
	return func(ctx context.Context, _ domain.OrderStatus, _ domain.OrderEvent, _ domain.OrderStatus) error {
		return m.allocationProducer.RequestAllocation(ctx, domain.SnapshotOf(order))
	}
}

func (m *BeerOrderManager) emitDeallocationRequest(order *domain.BeerOrder) statemachine.Action[domain.OrderStatus, domain.OrderEvent] {
	return func(ctx context.Context, _ domain.OrderStatus, _ domain.OrderEvent, _ domain.OrderStatus) error {
		return m.allocationProducer.RequestDeallocation(ctx, domain.SnapshotOf(order))
	}
}

func (m *BeerOrderManager) emitFailure(order *domain.BeerOrder, reason string) statemachine.Action[domain.OrderStatus, domain.OrderEvent] {
	return func(ctx context.Context, _ domain.OrderStatus, _ domain.OrderEvent, _ domain.OrderStatus) error {
		return m.failureNotifier.NotifyOrderFailed(ctx, order.ID, reason)
	}
}
