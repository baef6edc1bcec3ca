package port

import (
	"context"

	"github.com/google/uuid"
)

// FailureNotifier 是失败上报通道的出站端口。
// 订单进入校验/配货异常终态时，向外部失败通道发一条通知。
type FailureNotifier interface {
	NotifyOrderFailed(ctx context.Context, orderID uuid.UUID, reason string) error
}
