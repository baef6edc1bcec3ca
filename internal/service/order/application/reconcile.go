package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taphouse/internal/pkg/logger"
	"taphouse/internal/service/order/domain"
)

// ErrReconcileTimeout 表示在重试预算内没有观察到期望的订单状态。
// 它会向上传播，由调用方决定是中止还是转入延迟重试，
// 而不是假装前置条件已满足继续往下走。
var ErrReconcileTimeout = errors.New("order status reconcile timed out")

// awaitStatus 轮询订单直到其持久化状态等于 expected。
// 上一次迁移"已接受"和"写入对后续读可见"之间存在间隙，
// 依赖前一次写入的事件（比如 VALIDATED 之后的 ALLOCATE_ORDER）
// 必须先跨过这个间隙。这是有界的尽力而为，不是事务性保证。
func (m *BeerOrderManager) awaitStatus(ctx context.Context, orderID uuid.UUID, expected domain.OrderStatus) error {
	for attempt := 1; attempt <= m.reconcileAttempts; attempt++ {
		order, err := m.repo.FindByID(ctx, orderID)
		if err == nil && order.Status == expected {
			return nil
		}
		// 读不到或状态未到位都同样重试：两者都可能只是写入尚未可见
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.reconcileInterval):
		}
	}

	reconcileTimeouts.Inc()
	logger.Ctx(ctx).Warn().
		Str("order_id", orderID.String()).
		Str("expected_status", string(expected)).
		Int("attempts", m.reconcileAttempts).
		Msg("Status reconcile budget exhausted")
	return fmt.Errorf("%w: order %s never observed in status %s", ErrReconcileTimeout, orderID, expected)
}
