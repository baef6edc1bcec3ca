package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taphouse/internal/pkg/logger"
	"taphouse/internal/pkg/statemachine"
	"taphouse/internal/service/order/domain"
	"taphouse/internal/service/order/domain/port"
)

// BeerOrderManager 是订单生命周期 Saga 的编排者。
// 它在调用之间不持有任何订单状态：每次操作都重新加载订单、
// 重建状态机、投递一个事件，并执行迁移触发的出站副作用。
type BeerOrderManager struct {
	repo               domain.BeerOrderRepository
	validationProducer port.ValidationRequestProducer
	allocationProducer port.AllocationRequestProducer
	failureNotifier    port.FailureNotifier
	tracer             trace.Tracer

	reconcileAttempts int
	reconcileInterval time.Duration
}

func NewBeerOrderManager(
	repo domain.BeerOrderRepository,
	validationProducer port.ValidationRequestProducer,
	allocationProducer port.AllocationRequestProducer,
	failureNotifier port.FailureNotifier,
	tracer trace.Tracer,
	reconcileAttempts int,
	reconcileInterval time.Duration,
) *BeerOrderManager {
	return &BeerOrderManager{
		repo:               repo,
		validationProducer: validationProducer,
		allocationProducer: allocationProducer,
		failureNotifier:    failureNotifier,
		tracer:             tracer,
		reconcileAttempts:  reconcileAttempts,
		reconcileInterval:  reconcileInterval,
	}
}

// NewBeerOrder 落库一个新订单并发起校验。
// 返回的订单带有仓储分配的 ID 和版本号。
func (m *BeerOrderManager) NewBeerOrder(ctx context.Context, order *domain.BeerOrder) (*domain.BeerOrder, error) {
	ctx, span := m.tracer.Start(ctx, "order.NewBeerOrder")
	defer span.End()

	// 确保这是一个没有身份的新订单
	order.ID = uuid.Nil
	order.Status = domain.StatusNew

	if err := m.repo.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert new order")
		return nil, fmt.Errorf("insert new beer order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID.String()))

	if err := m.sendEvent(ctx, order, domain.EventValidateOrder); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return order, nil
}

// ProcessValidationResult 处理校验服务的异步回复。
// 校验通过时，必须先观察到 VALIDATED 写入可见，再基于新鲜实例发起配货；
// 直接复用手里的实例会带着过期的版本号与后续写入冲突。
func (m *BeerOrderManager) ProcessValidationResult(ctx context.Context, orderID uuid.UUID, valid bool) error {
	ctx, span := m.tracer.Start(ctx, "order.ProcessValidationResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.Bool("order.valid", valid),
	)

	order, err := m.loadOrder(ctx, "ProcessValidationResult", orderID)
	if err != nil {
		return err
	}

	if !valid {
		return m.sendEvent(ctx, order, domain.EventValidationFailed)
	}

	if err := m.sendEvent(ctx, order, domain.EventValidationPassed); err != nil {
		return err
	}
	if err := m.awaitStatus(ctx, orderID, domain.StatusValidated); err != nil {
		span.RecordError(err)
		return err
	}

	fresh, err := m.loadOrder(ctx, "ProcessValidationResult", orderID)
	if err != nil {
		return err
	}
	return m.sendEvent(ctx, fresh, domain.EventAllocateOrder)
}

// BeerOrderAllocationPassed 处理配货成功的回复：迁移到 ALLOCATED
// 并把回复中的已配货数量合并进订单行。
func (m *BeerOrderManager) BeerOrderAllocationPassed(ctx context.Context, result *domain.AllocateOrderResult) error {
	ctx, span := m.tracer.Start(ctx, "order.AllocationPassed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", result.OrderID.String()))

	order, err := m.loadOrder(ctx, "BeerOrderAllocationPassed", result.OrderID)
	if err != nil {
		return err
	}
	if err := m.sendEvent(ctx, order, domain.EventAllocationSuccess); err != nil {
		return err
	}
	return m.mergeAllocation(ctx, result)
}

// BeerOrderAllocationPendingInventory 处理部分配货的回复：
// 迁移到 PENDING_INVENTORY，已到货的部分照常合并。
func (m *BeerOrderManager) BeerOrderAllocationPendingInventory(ctx context.Context, result *domain.AllocateOrderResult) error {
	ctx, span := m.tracer.Start(ctx, "order.AllocationPendingInventory")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", result.OrderID.String()))

	order, err := m.loadOrder(ctx, "BeerOrderAllocationPendingInventory", result.OrderID)
	if err != nil {
		return err
	}
	if err := m.sendEvent(ctx, order, domain.EventAllocationNoInventory); err != nil {
		return err
	}
	return m.mergeAllocation(ctx, result)
}

// BeerOrderAllocationFailed 处理配货失败的回复，订单进入异常终态。
func (m *BeerOrderManager) BeerOrderAllocationFailed(ctx context.Context, result *domain.AllocateOrderResult) error {
	ctx, span := m.tracer.Start(ctx, "order.AllocationFailed")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", result.OrderID.String()))

	order, err := m.loadOrder(ctx, "BeerOrderAllocationFailed", result.OrderID)
	if err != nil {
		return err
	}
	return m.sendEvent(ctx, order, domain.EventAllocationFailed)
}

// PickUpBeerOrder 处理提货：只有 ALLOCATED 状态能接受该事件。
func (m *BeerOrderManager) PickUpBeerOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx, span := m.tracer.Start(ctx, "order.PickUp")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	order, err := m.loadOrder(ctx, "PickUpBeerOrder", orderID)
	if err != nil {
		return err
	}
	return m.sendEvent(ctx, order, domain.EventPickedUp)
}

// CancelBeerOrder 取消订单。取消本身也是一个建模事件：
// 终态订单的取消会被状态机拒绝而不是静默接受；
// 从 ALLOCATED 取消会额外发出去配货补偿消息。
func (m *BeerOrderManager) CancelBeerOrder(ctx context.Context, orderID uuid.UUID) error {
	ctx, span := m.tracer.Start(ctx, "order.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	order, err := m.loadOrder(ctx, "CancelBeerOrder", orderID)
	if err != nil {
		return err
	}
	return m.sendEvent(ctx, order, domain.EventCancelOrder)
}

// GetBeerOrder 查询单个订单。
func (m *BeerOrderManager) GetBeerOrder(ctx context.Context, orderID uuid.UUID) (*domain.BeerOrder, error) {
	return m.repo.FindByID(ctx, orderID)
}

// sendEvent 重建状态机并投递一个事件。
// 被拒绝的迁移会计数并记录，留给传输层决定重试、丢弃还是进死信。
func (m *BeerOrderManager) sendEvent(ctx context.Context, order *domain.BeerOrder, event domain.OrderEvent) error {
	if _, err := m.buildMachine(order).Fire(ctx, order.Status, event); err != nil {
		if errors.Is(err, statemachine.ErrTransitionRejected) {
			rejectedTransitions.WithLabelValues(string(event)).Inc()
			logger.Ctx(ctx).Warn().
				Str("order_id", order.ID.String()).
				Str("status", string(order.Status)).
				Str("event", string(event)).
				Msg("Event rejected for current order status")
		}
		return err
	}
	return nil
}

// mergeAllocation 把配货回复的数量合并进新鲜加载的订单实例。
// 事件迁移已经让版本号前进，必须重新加载后再写，否则必然版本冲突。
func (m *BeerOrderManager) mergeAllocation(ctx context.Context, result *domain.AllocateOrderResult) error {
	order, err := m.loadOrder(ctx, "mergeAllocation", result.OrderID)
	if err != nil {
		return err
	}
	order.ApplyAllocation(result.Lines)
	if err := m.repo.Save(ctx, order); err != nil {
		return fmt.Errorf("save allocated quantities for order %s: %w", order.ID, err)
	}
	return nil
}

// loadOrder 加载订单；订单不存在时计数并返回 ErrOrderNotFound。
// 迟到或重复的触发会命中这里，它必须是一个可观测的结果。
func (m *BeerOrderManager) loadOrder(ctx context.Context, operation string, orderID uuid.UUID) (*domain.BeerOrder, error) {
	order, err := m.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			staleTriggersDropped.WithLabelValues(operation).Inc()
			logger.Ctx(ctx).Warn().
				Str("order_id", orderID.String()).
				Str("operation", operation).
				Msg("Trigger references an unknown order")
		}
		return nil, err
	}
	return order, nil
}
