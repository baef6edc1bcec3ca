package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrOrderNotFound 表示订单 ID 没有对应的持久化记录。
	// 在异步系统里，迟到或重复的触发消息会正常地命中这个错误，
	// 调用方必须能把它与真正的数据丢失区分开。
	ErrOrderNotFound = errors.New("beer order not found")

	// ErrVersionConflict 表示乐观并发检查失败：
	// 两个并发写者读到了同一个版本号，后写者落库时发现版本已前进。
	// 该错误可以通过重新加载订单并重放事件来重试。
	ErrVersionConflict = errors.New("beer order version conflict")
)

// BeerOrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type BeerOrderRepository interface {
	// Create 插入一个新订单，分配 ID 并把版本置为 0。
	Create(ctx context.Context, order *BeerOrder) error

	// FindByID 根据 ID 加载订单；不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id uuid.UUID) (*BeerOrder, error)

	// Save 带乐观并发检查地保存订单：版本不匹配返回 ErrVersionConflict，
	// 成功时递增 order.Version。
	Save(ctx context.Context, order *BeerOrder) error
}
