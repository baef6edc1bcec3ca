package interfaces

import (
	"context"
	"errors"
	"time"

	"taphouse/internal/service/order/domain"
)

// 回复可能先于触发它的写入变得可见（订单插入尚未提交就收到了回复）。
// 监听器对 ErrOrderNotFound 做有限次重试来跨过这个竞态，
// 预算耗尽后放弃并交给死信处理，绝不无限阻塞传输层。
const (
	notFoundRetryAttempts = 10
	notFoundRetryInterval = 100 * time.Millisecond
)

// withNotFoundRetry 执行 fn，仅在订单尚不可见时按预算重试。
// 其他错误（包括被拒绝的迁移）立即返回，由调用方决定处置。
func withNotFoundRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= notFoundRetryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(notFoundRetryInterval):
		}
	}
	return err
}
